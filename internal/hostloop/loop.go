// Package hostloop provides small foreign run-loops of the kinds an engine
// may be embedded in: a posted-callback loop with signal/slot delivery, an
// idle-callback loop, and a native event pump with typed events.
//
// Each loop owns one goroutine once Run is called, and every callback runs
// on that goroutine. None of them knows anything about engines; they exist
// so the run-loop adapters have real loops to hand work to.
package hostloop

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStopped is returned by Run when called on a loop that was quit before.
var ErrStopped = errors.New("hostloop: loop stopped")

// Loop runs posted functions in order on the goroutine that called Run.
type Loop struct {
	queue   *fifo[func()]
	done    chan struct{}
	running atomic.Bool
}

// NewLoop returns a loop that is not yet running.
func NewLoop() *Loop {
	return &Loop{queue: newFIFO[func()](), done: make(chan struct{})}
}

// Post queues fn. It returns false once the loop has quit.
func (l *Loop) Post(fn func()) bool {
	return l.queue.push(fn)
}

// Run processes posted functions until ctx ends or Quit is called.
// Functions still queued at Quit are discarded.
func (l *Loop) Run(ctx context.Context) error {
	if l.queue.isClosed() {
		return ErrStopped
	}
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		close(l.done)
	}()
	for {
		if fn, ok := l.queue.pop(); ok && !l.queue.isClosed() {
			fn()
			continue
		}
		select {
		case <-ctx.Done():
			l.queue.close()
			return ctx.Err()
		case <-l.queue.wait():
			if l.queue.isClosed() {
				return nil
			}
		}
	}
}

// Quit stops the loop after the function currently running returns.
func (l *Loop) Quit() { l.queue.close() }

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }
