package hostloop

import "sync"

// Signal is a zero-argument signal whose slots run on a Loop. Emit may be
// called from any goroutine; delivery is queued onto the loop, so slots
// always run on the loop goroutine in connection order.
type Signal struct {
	loop *Loop

	mu     sync.Mutex
	slots  map[int]func()
	order  []int
	nextID int
}

// NewSignal returns a signal delivering on loop.
func NewSignal(loop *Loop) *Signal {
	return &Signal{loop: loop, slots: make(map[int]func())}
}

// Connect binds slot and returns a function that disconnects it.
func (s *Signal) Connect(slot func()) (disconnect func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.slots[id] = slot
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.slots, id)
		for i, o := range s.order {
			if o == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// Emit queues one delivery per connected slot. It returns false when the
// loop has quit or nothing is connected.
func (s *Signal) Emit() bool {
	s.mu.Lock()
	slots := make([]func(), 0, len(s.order))
	for _, id := range s.order {
		slots = append(slots, s.slots[id])
	}
	s.mu.Unlock()
	if len(slots) == 0 {
		return false
	}
	for _, slot := range slots {
		if !s.loop.Post(slot) {
			return false
		}
	}
	return true
}

// Connected returns the number of connected slots.
func (s *Signal) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
