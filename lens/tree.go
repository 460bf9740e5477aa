package lens

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"reflect"
	"strings"
)

// ErrNoFunctionBody indicates a function has no body (e.g., assembly-only or external).
var ErrNoFunctionBody = errors.New("function has no body (likely assembly or external implementation)")

// ErrFunctionNotFound indicates the requested function is not declared in the source.
var ErrFunctionNotFound = errors.New("function not found")

// ErrFragmentSyntax indicates an injection fragment could not be parsed as a statement list.
var ErrFragmentSyntax = errors.New("injection fragment syntax error")

// funcSrcPrefix makes a lone function declaration a valid file without shifting its line numbers.
const funcSrcPrefix = "package p; "

// fragmentPrefixLines is the number of lines placed ahead of a fragment when it is parsed.
const fragmentPrefixLines = 2

// nodeInfo is the side table entry of one statement.
type nodeInfo struct {
	origLine int // pristine function relative line, 0 when injected
	line     int // current line after renumbering, 0 while unassigned
	column   int
	injected bool
	anchor   token.Pos // source position injected statements are printed at
	markers  markerSet
}

// NodeInfo is a snapshot of the metadata tracked for a statement.
type NodeInfo struct {
	// OrigLine is the pristine function relative line, zero for injected statements.
	OrigLine int
	// Line is the function relative line after renumbering.
	Line int
	// Column is the 1-based column, injected statements inherit the column of their target.
	Column int
	// Injected is true only for statements synthesized from a fragment.
	Injected bool
	// Markers is the number of injections already spliced next to the statement.
	Markers int
}

// FuncTree is a parsed function declaration plus the side table used while injecting.
// The ast nodes are never annotated directly, all engine metadata lives in the side table.
type FuncTree struct {
	Fset *token.FileSet
	File *ast.File
	Decl *ast.FuncDecl

	funcLine int // absolute line of the func keyword
	info     map[ast.Stmt]*nodeInfo
}

// NewFuncTree wraps a declaration from an already parsed file.
func NewFuncTree(fset *token.FileSet, file *ast.File, decl *ast.FuncDecl) (*FuncTree, error) {
	if decl == nil {
		return nil, ErrFunctionNotFound
	} else if decl.Body == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFunctionBody, decl.Name.Name)
	}
	t := &FuncTree{
		Fset:     fset,
		File:     file,
		Decl:     decl,
		funcLine: fset.Position(decl.Pos()).Line,
		info:     make(map[ast.Stmt]*nodeInfo),
	}
	ast.Inspect(decl.Body, func(n ast.Node) bool {
		if st, ok := n.(ast.Stmt); ok && st.Pos().IsValid() {
			p := fset.Position(st.Pos())
			line := p.Line - t.funcLine + 1
			t.info[st] = &nodeInfo{origLine: line, line: line, column: p.Column}
		}
		return true
	})
	return t, nil
}

// ParseFunc parses the source text of a single function or method. Line 1 of the text must hold the func keyword.
func ParseFunc(src string) (*FuncTree, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", funcSrcPrefix+src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("function parse failure: %w", err)
	}
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok {
			return NewFuncTree(fset, file, fd)
		}
	}
	return nil, fmt.Errorf("%w: no function declaration in source", ErrFunctionNotFound)
}

// Body returns the top level statement list of the function.
func (t *FuncTree) Body() []ast.Stmt {
	return t.Decl.Body.List
}

// Info returns the tracked metadata for a statement.
func (t *FuncTree) Info(st ast.Stmt) (NodeInfo, bool) {
	ni, ok := t.info[st]
	if !ok {
		return NodeInfo{}, false
	}
	return NodeInfo{
		OrigLine: ni.origLine,
		Line:     ni.line,
		Column:   ni.column,
		Injected: ni.injected,
		Markers:  len(ni.markers),
	}, true
}

// InjectedCount returns the number of injected statements currently in the tree.
func (t *FuncTree) InjectedCount() int {
	var count int
	for _, ni := range t.info {
		if ni.injected {
			count++
		}
	}
	return count
}

// MarkerCount returns the number of requests spliced into the tree so far.
func (t *FuncTree) MarkerCount() int {
	var count int
	for _, ni := range t.info {
		count += len(ni.markers)
	}
	return count
}

// anchorFor returns the source position statements injected next to st are printed at. Statements placed
// after st sit at the end of its last line so a trailing comment stays with st. Statements placed before
// st sit at its start, below any comment leading it.
func (t *FuncTree) anchorFor(st ast.Stmt, pos Position) token.Pos {
	tf := t.Fset.File(st.Pos())
	if tf == nil {
		return token.NoPos
	} else if pos == Before {
		return st.Pos()
	}
	line := tf.Line(st.End())
	if line < tf.LineCount() {
		return tf.LineStart(line+1) - 1
	}
	return token.Pos(tf.Base() + tf.Size())
}

// ParseFragment parses an injection fragment into statements. All positions are cleared so the
// statements can be placed into another file's tree.
func ParseFragment(code string) ([]ast.Stmt, error) {
	src := "package p\nfunc _() {\n" + code + "\n}\n"
	file, err := parser.ParseFile(token.NewFileSet(), "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFragmentSyntax, fragmentErrorText(err))
	} else if len(file.Decls) != 1 {
		return nil, fmt.Errorf("%w: fragment must only contain statements", ErrFragmentSyntax)
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok || fn.Body == nil || fn.Name.Name != "_" {
		return nil, fmt.Errorf("%w: fragment must only contain statements", ErrFragmentSyntax)
	}
	for _, st := range fn.Body.List {
		clearPositions(st)
	}
	return fn.Body.List, nil
}

// fragmentErrorText renders parse errors with line numbers relative to the fragment.
func fragmentErrorText(err error) string {
	var list scanner.ErrorList
	if !errors.As(err, &list) || len(list) == 0 {
		return err.Error()
	}
	var sb strings.Builder
	for i, e := range list {
		if i > 0 {
			sb.WriteString("; ")
		}
		line := max(e.Pos.Line-fragmentPrefixLines, 1)
		sb.WriteString(fmt.Sprintf("line %d: %s", line, e.Msg))
	}
	return sb.String()
}

var posType = reflect.TypeOf(token.NoPos)

// clearPositions zeroes every token.Pos field under root.
func clearPositions(root ast.Node) {
	ast.Inspect(root, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		v := reflect.ValueOf(n)
		if v.Kind() != reflect.Pointer || v.IsNil() {
			return true
		}
		v = v.Elem()
		if v.Kind() != reflect.Struct {
			return true
		}
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.Type() == posType && f.CanSet() {
				f.SetInt(int64(token.NoPos))
			}
		}
		return true
	})
}
