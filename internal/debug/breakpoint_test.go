package debug

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAddAssignsIDs(t *testing.T) {
	s := NewSet()
	a := s.Add(BreakPoint{File: "<console>", Line: 2, Hits: 9})
	b := s.Add(BreakPoint{File: "<console>", Line: 5})
	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 2, b.ID)
	assert.Equal(t, 0, a.Hits, "hits start at zero")
	assert.Equal(t, []BreakPoint{a, b}, s.All())
}

func TestQueryMatchesSubset(t *testing.T) {
	s := NewSet()
	s.Add(BreakPoint{File: "a", Line: 1})
	s.Add(BreakPoint{File: "b", Line: 1, Condition: "x > 1"})
	s.Add(BreakPoint{File: "a", Line: 3})

	file := "a"
	assert.Len(t, s.Filter(Query{File: &file}), 2)
	assert.Len(t, s.Filter(At("a", 3)), 1)
	cond := "x > 1"
	got := s.Filter(Query{Condition: &cond})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].File)
	assert.Len(t, s.Filter(Query{}), 3)
}

func TestEditAndClear(t *testing.T) {
	s := NewSet()
	bp := s.Add(BreakPoint{File: "a", Line: 1})

	edited, err := s.Edit(bp.ID, func(b *BreakPoint) {
		b.Ignore = 2
		b.ID = 99
	})
	require.NoError(t, err)
	assert.Equal(t, bp.ID, edited.ID, "IDs are fixed")
	assert.Equal(t, 2, edited.Ignore)

	_, err = s.Edit(42, func(*BreakPoint) {})
	assert.True(t, errors.Is(err, ErrNoBreakPoint))

	s.Add(BreakPoint{File: "b", Line: 1})
	line := 1
	assert.Equal(t, 2, s.Clear(Query{Line: &line}))
	assert.Equal(t, 0, s.Len())
}

func TestHitIgnoreCount(t *testing.T) {
	s := NewSet()
	bp := s.Add(BreakPoint{File: "f", Line: 5, Ignore: 3})

	for i := 0; i < 3; i++ {
		assert.False(t, s.Hit("f", 5, nil), "match %d should pass", i+1)
	}
	assert.True(t, s.Hit("f", 5, nil), "fourth match pauses")
	assert.True(t, s.Hit("f", 5, nil))

	got := s.Filter(ByID(bp.ID))
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Hits)
	assert.Equal(t, 0, got[0].Ignore)
}

func TestHitCondition(t *testing.T) {
	s := NewSet()
	s.Add(BreakPoint{File: "f", Line: 1, Condition: "flag"})

	assert.False(t, s.Hit("f", 1, func(string) (bool, error) { return false, nil }))
	assert.True(t, s.Hit("f", 1, func(string) (bool, error) { return true, nil }))
	assert.True(t, s.Hit("f", 1, func(string) (bool, error) { return false, errors.New("bad") }),
		"condition errors pause")
	assert.Equal(t, 3, s.All()[0].Hits)
}

func TestHitFalseConditionKeepsIgnore(t *testing.T) {
	s := NewSet()
	s.Add(BreakPoint{File: "f", Line: 1, Condition: "c", Ignore: 1})
	assert.False(t, s.Hit("f", 1, func(string) (bool, error) { return false, nil }))
	assert.Equal(t, 1, s.All()[0].Ignore)
	assert.False(t, s.Hit("f", 1, func(string) (bool, error) { return true, nil }))
	assert.True(t, s.Hit("f", 1, func(string) (bool, error) { return true, nil }))
}

func TestHitNoMatch(t *testing.T) {
	s := NewSet()
	s.Add(BreakPoint{File: "f", Line: 1})
	assert.False(t, s.Hit("g", 1, nil))
	assert.False(t, s.Hit("f", 2, nil))
	assert.Equal(t, 0, s.All()[0].Hits)
}

func TestSetConcurrentAccess(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bp := s.Add(BreakPoint{File: "f", Line: i})
			s.Hit("f", i, nil)
			_, _ = s.Edit(bp.ID, func(b *BreakPoint) { b.Ignore = 1 })
			_ = s.Filter(Query{})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}
