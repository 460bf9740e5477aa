package lens

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/tools/go/ast/astutil"
)

// FuncSource is the located source of one function.
type FuncSource struct {
	// FilePath is the full path to the source file.
	FilePath string
	// PackageName is the package containing the function.
	PackageName string
	// Ident is the fully qualified identifier, see MakeFunctionIdent.
	Ident string
	// Name is the short function name.
	Name string
	// Source is the declaration text from the func keyword through the closing brace.
	Source string
	// StartLine is the 1-based file line holding the func keyword.
	StartLine int
}

// LineCount returns the number of lines in Source.
func (f FuncSource) LineCount() int {
	if f.Source == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(f.Source, "\n"), "\n") + 1
}

// MakeFunctionIdent returns the identifier of a declaration in the form "pkg:Name" or "pkg:Recv.Name".
func MakeFunctionIdent(pkgName string, funcDecl *ast.FuncDecl) string {
	var recv string
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		recv = receiverTypeString(funcDecl.Recv.List[0].Type)
	}
	return makeFunctionIdentStr(pkgName, recv, funcDecl.Name.Name)
}

func makeFunctionIdentStr(pkg, receiverType, funcName string) string {
	if receiverType != "" {
		return pkg + ":" + receiverType + "." + funcName
	} else {
		return pkg + ":" + funcName
	}
}

// receiverTypeString renders "*MyType", "pkg.Type", "List[T]" and so on.
func receiverTypeString(expr ast.Expr) string {
	return types.ExprString(expr)
}

// matchFunctionIdent accepts the full identifier, or the identifier without the package prefix.
func matchFunctionIdent(pkg string, decl *ast.FuncDecl, ident string) bool {
	full := MakeFunctionIdent(pkg, decl)
	return full == ident || strings.TrimPrefix(full, pkg+":") == ident
}

// findFuncDecl returns the declaration matching ident, or nil.
func findFuncDecl(f *ast.File, ident string) *ast.FuncDecl {
	pkg := f.Name.Name
	for _, decl := range f.Decls {
		if d, ok := decl.(*ast.FuncDecl); ok && matchFunctionIdent(pkg, d, ident) {
			return d
		}
	}
	return nil
}

// SourceLocator finds function sources in files. File contents are cached by path, modification time and size.
type SourceLocator struct {
	cache *ristretto.Cache[string, []byte]
}

// NewSourceLocator creates a locator with a cache budget in MB.
func NewSourceLocator(cacheMB int) (*SourceLocator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     int64(max(cacheMB, 1)) << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create source cache failed: %w", err)
	}
	return &SourceLocator{cache: cache}, nil
}

// Close releases the cache.
func (l *SourceLocator) Close() {
	l.cache.Close()
}

// ReadFile returns the current contents of the file.
func (l *SourceLocator) ReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := path + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10) + "|" + strconv.FormatInt(info.Size(), 10)
	if data, ok := l.cache.Get(key); ok {
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l.cache.Set(key, data, int64(len(data))+1)
	return data, nil
}

// Locate returns the source of the function ident declared in path.
func (l *SourceLocator) Locate(path, ident string) (FuncSource, error) {
	src, err := l.ReadFile(path)
	if err != nil {
		return FuncSource{}, fmt.Errorf("read failure %s: %w", path, err)
	}
	return LocateInSource(path, src, ident)
}

// LocateLine returns the source of the function declaration enclosing the 1-based file line.
func (l *SourceLocator) LocateLine(path string, line int) (FuncSource, error) {
	src, err := l.ReadFile(path)
	if err != nil {
		return FuncSource{}, fmt.Errorf("read failure %s: %w", path, err)
	}
	return LocateLineInSource(path, src, line)
}

// LocateLineInSource finds the function declaration enclosing line within already loaded file contents.
func LocateLineInSource(path string, src []byte, line int) (FuncSource, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return FuncSource{}, fmt.Errorf("ast parse failure %s: %w", path, err)
	}
	tf := fset.File(file.Pos())
	if line < 1 || line > tf.LineCount() {
		return FuncSource{}, fmt.Errorf("%w: line %d outside of %s", ErrFunctionNotFound, line, path)
	}
	pos := tf.LineStart(line)
	enclosing, _ := astutil.PathEnclosingInterval(file, pos, pos)
	for _, n := range enclosing {
		if decl, ok := n.(*ast.FuncDecl); ok {
			return funcSourceFromDecl(path, src, fset, file, decl)
		}
	}
	return FuncSource{}, fmt.Errorf("%w: no function at %s:%d", ErrFunctionNotFound, path, line)
}

// LocateInSource finds ident within already loaded file contents.
func LocateInSource(path string, src []byte, ident string) (FuncSource, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return FuncSource{}, fmt.Errorf("ast parse failure %s: %w", path, err)
	}
	decl := findFuncDecl(file, ident)
	if decl == nil {
		return FuncSource{}, fmt.Errorf("%w: %s in %s", ErrFunctionNotFound, ident, path)
	}
	return funcSourceFromDecl(path, src, fset, file, decl)
}

func funcSourceFromDecl(path string, src []byte, fset *token.FileSet, file *ast.File, decl *ast.FuncDecl) (FuncSource, error) {
	if decl.Body == nil {
		return FuncSource{}, fmt.Errorf("%w: %s in %s", ErrNoFunctionBody, decl.Name.Name, path)
	}
	start := fset.Position(decl.Pos())
	end := fset.Position(decl.End())
	return FuncSource{
		FilePath:    path,
		PackageName: file.Name.Name,
		Ident:       MakeFunctionIdent(file.Name.Name, decl),
		Name:        decl.Name.Name,
		Source:      string(src[start.Offset:end.Offset]),
		StartLine:   start.Line,
	}, nil
}
