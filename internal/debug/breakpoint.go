package debug

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoBreakPoint is returned by Edit for unknown IDs.
var ErrNoBreakPoint = errors.New("debug: no such breakpoint")

// BreakPoint is a (file, line) location the debugger stops at.
//
// Hits counts every match. Ignore, when positive, is the number of further
// matches that pass without pausing.
type BreakPoint struct {
	ID        int
	File      string
	Line      int
	Condition string
	Ignore    int
	Hits      int
}

// Query selects breakpoints by equality on the fields that are non-nil. The
// zero Query matches everything.
type Query struct {
	ID        *int
	File      *string
	Line      *int
	Condition *string
	Ignore    *int
	Hits      *int
}

// At is a Query for one location.
func At(file string, line int) Query {
	return Query{File: &file, Line: &line}
}

// ByID is a Query for one breakpoint.
func ByID(id int) Query {
	return Query{ID: &id}
}

// Match reports whether bp satisfies every set field of q.
func (q Query) Match(bp BreakPoint) bool {
	switch {
	case q.ID != nil && *q.ID != bp.ID:
		return false
	case q.File != nil && *q.File != bp.File:
		return false
	case q.Line != nil && *q.Line != bp.Line:
		return false
	case q.Condition != nil && *q.Condition != bp.Condition:
		return false
	case q.Ignore != nil && *q.Ignore != bp.Ignore:
		return false
	case q.Hits != nil && *q.Hits != bp.Hits:
		return false
	}
	return true
}

// Set is an ordered breakpoint collection. The dispatch goroutine edits it
// while the execution goroutine consults it at every statement, so all
// access goes through one mutex.
type Set struct {
	mu     sync.Mutex
	bps    []BreakPoint
	nextID int
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{nextID: 1}
}

// Add appends bp, assigning it the next ID, and returns the stored copy.
func (s *Set) Add(bp BreakPoint) BreakPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp.ID = s.nextID
	s.nextID++
	bp.Hits = 0
	s.bps = append(s.bps, bp)
	return bp
}

// Edit applies fn to the breakpoint with the given ID. The ID itself
// cannot be changed.
func (s *Set) Edit(id int, fn func(*BreakPoint)) (BreakPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bps {
		if s.bps[i].ID == id {
			fn(&s.bps[i])
			s.bps[i].ID = id
			return s.bps[i], nil
		}
	}
	return BreakPoint{}, fmt.Errorf("%w: %d", ErrNoBreakPoint, id)
}

// Clear removes every breakpoint matching q and returns how many went.
func (s *Set) Clear(q Query) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.bps[:0]
	removed := 0
	for _, bp := range s.bps {
		if q.Match(bp) {
			removed++
			continue
		}
		kept = append(kept, bp)
	}
	s.bps = kept
	return removed
}

// Filter returns copies of the breakpoints matching q, in insertion order.
func (s *Set) Filter(q Query) []BreakPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BreakPoint
	for _, bp := range s.bps {
		if q.Match(bp) {
			out = append(out, bp)
		}
	}
	return out
}

// All returns copies of every breakpoint.
func (s *Set) All() []BreakPoint {
	return s.Filter(Query{})
}

// Len returns the number of breakpoints.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bps)
}

// Hit records that execution reached (file, line) and reports whether any
// breakpoint there wants to pause.
//
// Every matching breakpoint has its Hits incremented. A breakpoint whose
// condition evaluates false does not pause. One with Ignore > 0 has Ignore
// decremented and does not pause. A condition that fails to evaluate
// pauses. cond may be nil when no evaluator is available, in which case
// conditions are treated as true.
//
// cond runs without the lock held, since it executes user code.
func (s *Set) Hit(file string, line int, cond func(expr string) (bool, error)) bool {
	s.mu.Lock()
	var matched []BreakPoint
	for i := range s.bps {
		if s.bps[i].File == file && s.bps[i].Line == line {
			s.bps[i].Hits++
			matched = append(matched, s.bps[i])
		}
	}
	s.mu.Unlock()
	if len(matched) == 0 {
		return false
	}

	pause := false
	var consume []int
	for _, bp := range matched {
		if bp.Condition != "" && cond != nil {
			ok, err := cond(bp.Condition)
			if err == nil && !ok {
				continue
			}
			if err != nil {
				pause = true
				continue
			}
		}
		if bp.Ignore > 0 {
			consume = append(consume, bp.ID)
			continue
		}
		pause = true
	}

	if len(consume) > 0 {
		s.mu.Lock()
		for i := range s.bps {
			for _, id := range consume {
				if s.bps[i].ID == id && s.bps[i].Ignore > 0 {
					s.bps[i].Ignore--
				}
			}
		}
		s.mu.Unlock()
	}
	return pause
}
