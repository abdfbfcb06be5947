package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/lang"
)

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	noop := func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) { return lang.None, nil }

	assert.ErrorIs(t, r.Register("", noop), ErrInvalidTask)
	assert.ErrorIs(t, r.Register("t", nil), ErrInvalidTask)
	assert.Equal(t, 0, r.Len())
}

func TestRegisterKeepsExisting(t *testing.T) {
	r := NewRegistry()
	first := func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) { return lang.Int(1), nil }
	second := func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) { return lang.Int(2), nil }

	require.NoError(t, r.Register("t", first))
	assert.ErrorIs(t, r.Register("t", second), ErrTaskExists)

	v, err := r.Run(lang.NewNamespace(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, lang.Int(1), v)
}

func TestRunUnknown(t *testing.T) {
	_, err := NewRegistry().Run(lang.NewNamespace(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRunPropagatesTaskErrors(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register("t", func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
		return nil, boom
	}))
	_, err := r.Run(lang.NewNamespace(), "t", nil)
	assert.Same(t, boom, err)
}

func TestRunMatchesDirectCall(t *testing.T) {
	r := NewRegistry()
	add := func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
		base, _ := ns.Globals.Get("base")
		sum := base.(lang.Int)
		for _, a := range args {
			sum += a.(lang.Int)
		}
		ns.Globals.Set("last", sum)
		return sum, nil
	}
	require.NoError(t, r.Register("add", add))

	viaRegistry := lang.NewNamespace()
	viaRegistry.Globals.Set("base", lang.Int(10))
	direct := lang.NewNamespace()
	direct.Globals.Set("base", lang.Int(10))

	got, err := r.Run(viaRegistry, "add", []lang.Value{lang.Int(1), lang.Int(2)})
	require.NoError(t, err)
	want, err := add(direct, lang.Int(1), lang.Int(2))
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, direct.Globals.Names(), viaRegistry.Globals.Names())
}

func TestNamesSorted(t *testing.T) {
	r := NewRegistry()
	noop := func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) { return nil, nil }
	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(n, noop))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())

	v, err := r.Run(lang.NewNamespace(), "alpha", nil)
	require.NoError(t, err)
	assert.Equal(t, lang.None, v, "nil results are reported as None")
}

func TestFromScript(t *testing.T) {
	in := lang.New()
	name, fn, err := FromScript(in, "def bump(g, l, n=1):\n    g['counter'] = g.get('counter', 0) + n\n    return g['counter']\n")
	require.NoError(t, err)
	assert.Equal(t, "bump", name)

	ns := lang.NewNamespace()
	v, err := fn(ns)
	require.NoError(t, err)
	assert.Equal(t, lang.Int(1), v)

	v, err = fn(ns, lang.Int(5))
	require.NoError(t, err)
	assert.Equal(t, lang.Int(6), v)

	counter, ok := ns.Globals.Get("counter")
	require.True(t, ok)
	assert.Equal(t, lang.Int(6), counter)
}

func TestFromScriptErrorsLeaveNamespace(t *testing.T) {
	in := lang.New()
	_, fn, err := FromScript(in, "def bad(g, l):\n    g['x'] = 1\n    return 1 / 0\n")
	require.NoError(t, err)

	ns := lang.NewNamespace()
	_, err = fn(ns)
	var exc *lang.Exception
	require.ErrorAs(t, err, &exc)
	assert.True(t, exc.Matches(lang.ZeroDivisionError))
	_, ok := ns.Globals.Get("x")
	assert.False(t, ok)
}

func TestFromScriptRejects(t *testing.T) {
	in := lang.New()

	_, _, err := FromScript(in, "x = 1\n")
	assert.ErrorIs(t, err, ErrNotDefinition)

	_, _, err = FromScript(in, "def f(a):\n    return a\n")
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, _, err = FromScript(in, "def f(:\n")
	var se *lang.SyntaxError
	assert.ErrorAs(t, err, &se)
}

func TestBuiltinTasks(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	assert.Equal(t, []string{"chdir", "describe", "getcwd", "names", "typeof"}, r.Names())
	// registering again is harmless
	require.NoError(t, RegisterBuiltins(r))

	ns := lang.NewNamespace()
	ns.Globals.Set("b", lang.Int(2))
	ns.Globals.Set("a", lang.Str("x"))

	v, err := r.Run(ns, "names", nil)
	require.NoError(t, err)
	assert.Equal(t, "['a', 'b']", lang.Repr(v))

	v, err = r.Run(ns, "typeof", []lang.Value{lang.Str("b")})
	require.NoError(t, err)
	assert.Equal(t, lang.Str("int"), v)

	v, err = r.Run(ns, "describe", []lang.Value{lang.Str("a")})
	require.NoError(t, err)
	assert.Equal(t, "{'name': 'a', 'type': 'str', 'repr': \"'x'\"}", lang.Repr(v))

	_, err = r.Run(ns, "typeof", []lang.Value{lang.Str("nope")})
	var exc *lang.Exception
	require.ErrorAs(t, err, &exc)
	assert.True(t, exc.Matches(lang.NameError))
}

func TestChdirTask(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })

	dir := t.TempDir()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	v, err := r.Run(lang.NewNamespace(), "chdir", []lang.Value{lang.Str(dir)})
	require.NoError(t, err)

	got, err := r.Run(lang.NewNamespace(), "getcwd", nil)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(string(got.(lang.Str)))
	require.NoError(t, err)
	assert.Equal(t, resolved, gotResolved)
}
