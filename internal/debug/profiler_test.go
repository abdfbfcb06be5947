package debug

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/lang"
)

// tickClock advances by one millisecond on every reading.
func tickClock() func() time.Time {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Millisecond)
	}
}

func runProfiled(t *testing.T, p *Profiler, src string) error {
	t.Helper()
	in := lang.New()
	in.SetTracer(p)
	defer in.SetTracer(nil)
	code, err := lang.Compile(src, "<prof>", lang.ModeExec, lang.DefaultFlags())
	require.NoError(t, err)
	err = in.Exec(code, lang.NewNamespace())
	p.Finish()
	return err
}

func TestProfilerCountsCalls(t *testing.T) {
	p := NewProfiler(WithClock(tickClock()))
	src := "def leaf():\n    return 1\ndef outer():\n    leaf()\n    leaf()\n    return 2\nfor i in range(3):\n    outer()\n"
	require.NoError(t, runProfiled(t, p, src))

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "<prof>:3(outer)", stats[0].Name, "outer accumulates more time")
	assert.Equal(t, int64(3), stats[0].Calls)
	assert.Equal(t, "<prof>:1(leaf)", stats[1].Name)
	assert.Equal(t, int64(6), stats[1].Calls)
	assert.Equal(t, 6*time.Millisecond, stats[1].Total)
	assert.Equal(t, time.Millisecond, stats[1].Max)
	assert.False(t, p.Disabled())
}

func TestProfilerClosesUnwoundFrames(t *testing.T) {
	p := NewProfiler(WithClock(tickClock()))
	src := "def boom():\n    return 1 / 0\ndef mid():\n    return boom()\nmid()\n"
	err := runProfiled(t, p, src)
	var exc *lang.Exception
	require.ErrorAs(t, err, &exc)

	stats := p.Stats()
	require.Len(t, stats, 2)
	for _, s := range stats {
		assert.Equal(t, int64(1), s.Calls, s.Name)
	}
}

func TestProfilerSurvivesPanics(t *testing.T) {
	calls := 0
	p := NewProfiler(WithClock(func() time.Time {
		calls++
		if calls == 2 {
			panic("clock broke")
		}
		return time.Unix(int64(calls), 0)
	}))
	src := "def f():\n    return 1\nf()\nf()\nx = f()\n"
	require.NoError(t, runProfiled(t, p, src), "hook failures never reach the code")
	assert.True(t, p.Disabled())

	p.Reset()
	assert.False(t, p.Disabled())
	assert.Empty(t, p.Stats())
}
