package lens

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/printer"
	"go/token"
	"slices"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// RegenerateOptions controls how a function is emitted.
type RegenerateOptions struct {
	// Standalone emits methods as free-standing functions with a synthesized name.
	Standalone bool
}

// Regenerate emits the (possibly transformed) function as formatted source, comments included.
func Regenerate(tree *FuncTree, opts RegenerateOptions) ([]byte, error) {
	decl := tree.Decl
	if opts.Standalone && decl.Recv != nil && len(decl.Recv.List) > 0 {
		decl = standaloneDecl(decl)
	}
	var buf bytes.Buffer
	node := &printer.CommentedNode{Node: decl, Comments: declComments(tree.File, tree.Decl)}
	if err := formatInjected(&buf, tree.Fset, decl, node, injectedAnchors(tree)); err != nil {
		return nil, fmt.Errorf("ast format failure %s: %w", tree.Decl.Name.Name, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// declComments returns the comment groups between the start of the doc comment and the end of the declaration.
func declComments(file *ast.File, decl *ast.FuncDecl) []*ast.CommentGroup {
	start := decl.Pos()
	if decl.Doc != nil {
		start = decl.Doc.Pos()
	}
	var comments []*ast.CommentGroup
	for _, cg := range file.Comments {
		if cg.Pos() >= start && cg.End() <= decl.End() {
			comments = append(comments, cg)
		}
	}
	return comments
}

// RegenerateFile formats the whole file the given trees belong to.
func RegenerateFile(buf *bytes.Buffer, fset *token.FileSet, file *ast.File, trees ...*FuncTree) ([]byte, error) {
	if err := formatInjected(buf, fset, file, file, injectedAnchors(trees...)); err != nil {
		return nil, fmt.Errorf("ast format failure: %w", err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// injectedAnchors maps every injected statement of the trees to the position it is printed at.
func injectedAnchors(trees ...*FuncTree) map[ast.Stmt]token.Pos {
	anchors := make(map[ast.Stmt]token.Pos)
	for _, t := range trees {
		for st, ni := range t.info {
			if ni.injected {
				anchors[st] = ni.anchor
			}
		}
	}
	return anchors
}

// placeholder stands in for a run of injected statements while the surrounding source is printed.
type placeholder struct {
	name  string
	stmts []ast.Stmt
}

const placeholderPrefix = "_lineinject"

// formatInjected prints node into buf. Injected statements carry no positions of their own, so the printer
// would interleave the file comments with them. Each run of injected statements sharing an anchor is printed
// as a single placeholder identifier at that anchor instead, then replaced by the formatted statements.
func formatInjected(buf *bytes.Buffer, fset *token.FileSet, root ast.Node, node any, anchors map[ast.Stmt]token.Pos) error {
	var placeholders []placeholder
	if len(anchors) > 0 {
		var restore []func()
		defer func() {
			for _, fn := range restore {
				fn()
			}
		}()
		ast.Inspect(root, func(n ast.Node) bool {
			var list *[]ast.Stmt
			switch n := n.(type) {
			case *ast.BlockStmt:
				list = &n.List
			case *ast.CaseClause:
				list = &n.Body
			case *ast.CommClause:
				list = &n.Body
			default:
				return true
			}
			orig := *list
			replaced, found := replaceInjectedRuns(orig, anchors, len(placeholders))
			if len(found) > 0 {
				*list = replaced
				placeholders = append(placeholders, found...)
				restore = append(restore, func() { *list = orig })
			}
			return true
		})
	}

	buf.Reset()
	if err := format.Node(buf, fset, node); err != nil {
		return err
	} else if len(placeholders) == 0 {
		return nil
	}

	out := bytes.Clone(buf.Bytes())
	var code bytes.Buffer
	for _, ph := range placeholders {
		code.Reset()
		if err := format.Node(&code, fset, ph.stmts); err != nil {
			return err
		}
		i := bytes.Index(out, []byte(ph.name))
		if i < 0 {
			return fmt.Errorf("injected statements missing from output (%s)", ph.name)
		}
		out = slices.Concat(out[:i], code.Bytes(), out[i+len(ph.name):])
	}
	// continuation lines of the spliced statements are re-indented here
	formatted, err := format.Source(out)
	if err != nil {
		return err
	}
	buf.Reset()
	buf.Write(formatted)
	return nil
}

// replaceInjectedRuns returns list with every run of injected statements sharing an anchor collapsed into one
// placeholder statement. The original list is not modified.
func replaceInjectedRuns(list []ast.Stmt, anchors map[ast.Stmt]token.Pos, seq int) ([]ast.Stmt, []placeholder) {
	var out []ast.Stmt
	var found []placeholder
	for i := 0; i < len(list); {
		anchor, ok := anchors[list[i]]
		if !ok {
			out = append(out, list[i])
			i++
			continue
		}
		j := i + 1
		for j < len(list) {
			if a, ok := anchors[list[j]]; !ok || a != anchor {
				break
			}
			j++
		}
		name := fmt.Sprintf("%s%d_", placeholderPrefix, seq+len(found))
		found = append(found, placeholder{name: name, stmts: list[i:j]})
		out = append(out, &ast.ExprStmt{X: &ast.Ident{Name: name, NamePos: anchor}})
		i = j
	}
	if len(found) == 0 {
		return list, nil
	}
	return out, found
}

// StandaloneName derives a function name from a receiver type and method name, e.g. "*Calc" and "Multiply"
// produce "Calc_Multiply". Plain functions keep their name.
func StandaloneName(recvType, funcName string) string {
	if recvType == "" {
		return funcName
	}
	// generic receivers keep only the base type
	if i := strings.IndexByte(recvType, '['); i >= 0 {
		recvType = recvType[:i]
	}
	recvType = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		} else if r == '.' {
			return '_'
		}
		return -1
	}, recvType)
	return recvType + "_" + funcName
}

// standaloneDecl copies a method declaration into a free-standing function whose first parameter is the receiver.
// Methods on generic receivers are renamed but keep their receiver since the type parameters are bound by it.
func standaloneDecl(decl *ast.FuncDecl) *ast.FuncDecl {
	recv := decl.Recv.List[0]
	out := *decl
	out.Name = ast.NewIdent(StandaloneName(receiverTypeString(recv.Type), decl.Name.Name))
	if isGenericReceiver(recv.Type) {
		return &out
	}

	var namedParams bool
	var params []*ast.Field
	if decl.Type.Params != nil {
		params = decl.Type.Params.List
		namedParams = len(params) == 0 || len(params[0].Names) > 0
	} else {
		namedParams = true
	}
	recvField := &ast.Field{Type: recv.Type}
	if namedParams { // named and unnamed parameters can not be mixed
		if len(recv.Names) > 0 {
			recvField.Names = recv.Names
		} else {
			recvField.Names = []*ast.Ident{ast.NewIdent("_")}
		}
	}
	ft := *decl.Type
	ft.Params = &ast.FieldList{List: append([]*ast.Field{recvField}, params...)}
	if decl.Type.Params != nil {
		ft.Params.Opening = decl.Type.Params.Opening
		ft.Params.Closing = decl.Type.Params.Closing
	}
	out.Type = &ft
	out.Recv = nil
	return &out
}

func isGenericReceiver(expr ast.Expr) bool {
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	switch expr.(type) {
	case *ast.IndexExpr, *ast.IndexListExpr:
		return true
	default:
		return false
	}
}

// UnifiedDiff renders a unified diff between two versions of a source text.
func UnifiedDiff(name string, before, after []byte) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: name + " (original)",
		ToFile:   name + " (injected)",
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(diff)
}
