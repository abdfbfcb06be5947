package hostloop

import (
	"context"
	"sync"
)

// IdleLoop runs posted functions like Loop, and runs idle callbacks
// whenever no posted function is waiting.
//
// An idle callback returning true stays installed and runs again at the
// next idle point; returning false removes it.
type IdleLoop struct {
	loop *Loop

	mu     sync.Mutex
	idle   []idleEntry
	nextID int
	wake   chan struct{}
}

type idleEntry struct {
	id int
	fn func() bool
}

// NewIdleLoop returns an idle loop that is not yet running.
func NewIdleLoop() *IdleLoop {
	return &IdleLoop{loop: NewLoop(), wake: make(chan struct{}, 1)}
}

// AddIdle installs fn and returns an ID usable with RemoveIdle. It returns
// 0 once the loop has quit.
func (l *IdleLoop) AddIdle(fn func() bool) int {
	if l.loop.queue.isClosed() {
		return 0
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.idle = append(l.idle, idleEntry{id: id, fn: fn})
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return id
}

// RemoveIdle uninstalls an idle callback. It reports whether it was there.
func (l *IdleLoop) RemoveIdle(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.idle {
		if e.id == id {
			l.idle = append(l.idle[:i], l.idle[i+1:]...)
			return true
		}
	}
	return false
}

// Post queues fn ahead of idle work.
func (l *IdleLoop) Post(fn func()) bool { return l.loop.Post(fn) }

// Quit stops the loop.
func (l *IdleLoop) Quit() { l.loop.Quit() }

// Done is closed when Run has returned.
func (l *IdleLoop) Done() <-chan struct{} { return l.loop.Done() }

// Run drives the loop until ctx ends or Quit is called.
func (l *IdleLoop) Run(ctx context.Context) error {
	q := l.loop.queue
	if q.isClosed() {
		return ErrStopped
	}
	l.loop.running.Store(true)
	defer func() {
		l.loop.running.Store(false)
		close(l.loop.done)
	}()
	for {
		if q.isClosed() {
			return nil
		}
		if fn, ok := q.pop(); ok {
			fn()
			continue
		}
		if l.runIdle() {
			continue
		}
		select {
		case <-ctx.Done():
			q.close()
			return ctx.Err()
		case <-q.wait():
		case <-l.wake:
		}
	}
}

// runIdle runs one pass over the idle callbacks installed at the start of
// the pass. It reports whether any ran.
func (l *IdleLoop) runIdle() bool {
	l.mu.Lock()
	batch := append([]idleEntry(nil), l.idle...)
	l.mu.Unlock()
	if len(batch) == 0 {
		return false
	}
	for _, e := range batch {
		if l.loop.queue.isClosed() {
			return true
		}
		if !e.fn() {
			l.RemoveIdle(e.id)
		}
	}
	return true
}
