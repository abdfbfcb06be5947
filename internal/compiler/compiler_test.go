package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/lang"
)

func TestCompileBlankIsNoop(t *testing.T) {
	c := New()
	for _, src := range []string{"", "\n", "   \n\t\n"} {
		res := c.Compile(src)
		assert.Equal(t, Result{}, res, "source %q", src)
	}
}

func TestCompileCompleteStatement(t *testing.T) {
	c := New()
	res := c.Compile("x = 1\n")
	require.NotNil(t, res.Unit)
	assert.False(t, res.NeedMore)
	assert.False(t, res.SyntaxError)
	assert.Equal(t, -1, res.Unit.LineAdjust)
	assert.Equal(t, Filename, res.Unit.Filename)
	assert.Equal(t, "x = 1\n", res.Unit.Source)
}

func TestCompileIndentedFirstLineIsNotWrapped(t *testing.T) {
	res := New().Compile("    x = 1\n")
	require.True(t, res.SyntaxError)
	assert.Equal(t, 0, res.LineAdjust)
	assert.Equal(t, "unexpected indent", res.Err.Msg)
}

func TestCompileMultiLineBlock(t *testing.T) {
	c := New()

	res := c.Compile("if True:\n")
	assert.True(t, res.NeedMore)

	res = c.Compile("if True:\n    x=1\n")
	assert.True(t, res.NeedMore)

	res = c.Compile("if True:\n    x=1\n\n")
	require.NotNil(t, res.Unit)

	code, err := res.Unit.Take()
	require.NoError(t, err)
	in := lang.New()
	ns := lang.NewNamespace()
	require.NoError(t, in.Exec(code, ns))
	x, ok := ns.Globals.Get("x")
	require.True(t, ok)
	assert.Equal(t, lang.Int(1), x)
}

func TestCompileOpenBracketNeedsMore(t *testing.T) {
	c := New()
	assert.True(t, c.Compile("print(1,\n").NeedMore)
	assert.True(t, c.Compile("print(1,\n\n").NeedMore)
	assert.NotNil(t, c.Compile("print(1,\n2)\n").Unit)
}

func TestCompileBlankLineClosesEmptyBlock(t *testing.T) {
	res := New().Compile("for i in x:\n\n")
	require.True(t, res.SyntaxError)
	assert.Equal(t, "expected an indented block", res.Err.Msg)
}

func TestSyntaxErrorLineIsAdjusted(t *testing.T) {
	res := New().Compile("a = 1\nb = = 2\n")
	require.True(t, res.SyntaxError)

	adjusted := AdjustSyntaxError(res.Err, res.LineAdjust)
	assert.Equal(t, 2, adjusted.Line)
	assert.Equal(t, "b = = 2", adjusted.Text)
	assert.Equal(t, 5, adjusted.Col)
	// the raw error is left alone
	assert.Equal(t, 3, res.Err.Line)
}

func TestSyntaxErrorFromOtherFileIsUnchanged(t *testing.T) {
	err := &lang.SyntaxError{Msg: "invalid syntax", Filename: "lib.rs", Line: 3, Col: 2, Text: "    x"}
	assert.Same(t, err, AdjustSyntaxError(err, -1))
}

func TestUnitTakeOnce(t *testing.T) {
	res := New().Compile("x = 1\n")
	require.NotNil(t, res.Unit)
	_, err := res.Unit.Take()
	require.NoError(t, err)
	_, err = res.Unit.Take()
	assert.ErrorIs(t, err, ErrUnitConsumed)
}

func TestSetFlag(t *testing.T) {
	c := New()
	require.NoError(t, c.SetFlag("division", false))
	assert.False(t, c.Flags().TrueDivision)
	assert.ErrorIs(t, c.SetFlag("braces", true), ErrUnknownFlag)
}

func TestCompileExprAndExec(t *testing.T) {
	c := New()
	code, err := c.CompileExpr("  1 + 2\n")
	require.NoError(t, err)
	v, err := lang.New().Eval(code, lang.NewNamespace())
	require.NoError(t, err)
	assert.Equal(t, lang.Int(3), v)

	code, err = c.CompileExec("a = 1\nb = 2\n", "mod.rs")
	require.NoError(t, err)
	assert.Equal(t, "mod.rs", code.Filename)
	assert.Len(t, code.Body, 2)
}

func runUnit(t *testing.T, src string) *lang.Exception {
	t.Helper()
	res := New().Compile(src)
	require.NotNil(t, res.Unit, "source did not compile: %+v", res)
	code, err := res.Unit.Take()
	require.NoError(t, err)
	in := lang.New()
	var out bytes.Buffer
	in.Stdout = &out
	err = in.Exec(code, lang.NewNamespace(), lang.WithCallIn(CallInName, CallInFilename))
	var exc *lang.Exception
	require.ErrorAs(t, err, &exc)
	return exc
}

func TestFormatTraceback(t *testing.T) {
	src := "def f(n):\n    return 10 / n\n\nf(0)\n\n"
	exc := runUnit(t, src)
	lines := strings.Split(src, "\n")
	text := FormatTraceback(exc, func(filename string, line int) string {
		if filename != Filename || line < 1 || line > len(lines) {
			return ""
		}
		return lines[line-1]
	})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "traceback_zero_division", []byte(text))
}

func TestFormatSyntaxError(t *testing.T) {
	res := New().Compile("x = (1 +\n     2))\n")
	require.True(t, res.SyntaxError)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "syntax_error_unmatched", []byte(FormatSyntaxError(res.Err, res.LineAdjust)))
}
