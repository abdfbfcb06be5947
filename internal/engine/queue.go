package engine

import (
	"sync"

	"github.com/roach88/rengine/internal/protocol"
)

// item is one unit of dispatch work: an inbound request, or a closure the
// execution side hands back to the dispatch goroutine.
type item struct {
	msg protocol.Message
	fn  func()
}

// inbox is the thread-safe FIFO feeding the dispatch loop.
//
// The signal channel (buffer of one) coalesces wakeups so Run can select on
// it together with the context and the transport's Done channel. Closing
// the inbox closes the channel, which wakes every waiter.
type inbox struct {
	mu     sync.Mutex
	items  []item
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		items:  make([]item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends it. It returns false once the inbox is closed.
func (q *inbox) Enqueue(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, it)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *inbox) TryDequeue() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	// release references held by the slot
	q.items[0] = item{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

// Wait returns the wakeup channel.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Queued items can still be dequeued.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
