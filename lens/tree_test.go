package lens

import (
	"go/ast"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addFuncSrc = `func Add(a, b int) int {
	r := 0
	return r
}`

func TestParseFunc(t *testing.T) {
	t.Parallel()

	t.Run("function_relative_lines", func(t *testing.T) {
		tree, err := ParseFunc(addFuncSrc)
		require.NoError(t, err)
		require.Len(t, tree.Body(), 2)

		for i, st := range tree.Body() {
			info, ok := tree.Info(st)
			require.True(t, ok)
			assert.Equal(t, i+2, info.OrigLine)
			assert.Equal(t, i+2, info.Line)
			assert.Equal(t, 2, info.Column)
			assert.False(t, info.Injected)
			assert.Equal(t, 0, info.Markers)
		}
		assert.Equal(t, 0, tree.InjectedCount())
		assert.Equal(t, "p:Add", MakeFunctionIdent("p", tree.Decl))
	})

	t.Run("nested_statements", func(t *testing.T) {
		tree, err := ParseFunc("func F(ok bool) {\n\tif ok {\n\t\tf()\n\t}\n}")
		require.NoError(t, err)
		ifStmt := tree.Body()[0].(*ast.IfStmt)

		info, ok := tree.Info(ifStmt.Body.List[0])
		require.True(t, ok)
		assert.Equal(t, 3, info.OrigLine)
		assert.Equal(t, 3, info.Column)
	})

	t.Run("method", func(t *testing.T) {
		tree, err := ParseFunc("func (c *Calc) Multiply(a, b int) int {\n\treturn a * b\n}")
		require.NoError(t, err)
		assert.Equal(t, "p:*Calc.Multiply", MakeFunctionIdent("p", tree.Decl))
	})

	t.Run("no_body", func(t *testing.T) {
		_, err := ParseFunc("func Asm(x int) int")
		require.ErrorIs(t, err, ErrNoFunctionBody)
	})

	t.Run("not_a_function", func(t *testing.T) {
		_, err := ParseFunc("var x = 1")
		require.ErrorIs(t, err, ErrFunctionNotFound)
	})

	t.Run("syntax_error", func(t *testing.T) {
		_, err := ParseFunc("func Broken( {")
		require.Error(t, err)
	})
}

func TestNewFuncTreeNilDecl(t *testing.T) {
	t.Parallel()

	_, err := NewFuncTree(nil, nil, nil)
	require.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestParseFragment(t *testing.T) {
	t.Parallel()

	t.Run("single_statement", func(t *testing.T) {
		stmts, err := ParseFragment("x++")
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.IsType(t, &ast.IncDecStmt{}, stmts[0])
		assert.False(t, stmts[0].Pos().IsValid())
	})

	t.Run("multiple_statements", func(t *testing.T) {
		stmts, err := ParseFragment("a := 1\nb := a + 1; _ = b\nif a > 0 {\n\tprintln(a)\n}")
		require.NoError(t, err)
		require.Len(t, stmts, 4)
		ifStmt, ok := stmts[3].(*ast.IfStmt)
		require.True(t, ok)
		assert.False(t, ifStmt.Body.Lbrace.IsValid())
		assert.False(t, ifStmt.Cond.Pos().IsValid())
	})

	t.Run("empty", func(t *testing.T) {
		stmts, err := ParseFragment("")
		require.NoError(t, err)
		assert.Empty(t, stmts)
	})

	t.Run("syntax_error_line", func(t *testing.T) {
		_, err := ParseFragment("x := 1\ny := )")
		require.ErrorIs(t, err, ErrFragmentSyntax)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("escape_function_body", func(t *testing.T) {
		_, err := ParseFragment("}\nfunc other() {")
		require.ErrorIs(t, err, ErrFragmentSyntax)
	})
}
