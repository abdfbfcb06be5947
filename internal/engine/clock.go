package engine

import "sync/atomic"

// Clock is the engine's monotonic logical clock. It stamps every outgoing
// message and numbers units. It is safe for concurrent use: events are
// published from both the dispatch and the execution goroutine.
type Clock struct {
	seq atomic.Uint64
}

// NewClock returns a clock whose first tick is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock that continues after start, for an engine
// appending to an existing journal.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
