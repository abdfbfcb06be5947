package hostloop

import (
	"context"
	"sync"
)

// EventKind identifies a class of events. Kinds are allocated per pump.
type EventKind int

// Built-in kinds every pump knows.
const (
	EventNone EventKind = iota
	EventQuit
	firstUserKind
)

// Event is a native event delivered by an EventPump.
type Event struct {
	Kind EventKind
	Data any
}

// Handler receives events of the kinds it is bound to.
type Handler func(Event)

// EventPump is a native-style event loop: events are posted into a queue
// and dispatched to the handlers bound to their kind. EventQuit stops the
// pump once it is dispatched.
type EventPump struct {
	loop *Loop

	mu       sync.Mutex
	handlers map[EventKind][]Handler
	names    map[EventKind]string
	nextKind EventKind
}

// NewEventPump returns a pump that is not yet running.
func NewEventPump() *EventPump {
	return &EventPump{
		loop:     NewLoop(),
		handlers: make(map[EventKind][]Handler),
		names:    map[EventKind]string{EventNone: "none", EventQuit: "quit"},
		nextKind: firstUserKind,
	}
}

// RegisterKind allocates a new custom event kind.
func (p *EventPump) RegisterKind(name string) EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := p.nextKind
	p.nextKind++
	p.names[k] = name
	return k
}

// KindName returns the name a kind was registered with.
func (p *EventPump) KindName(k EventKind) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[k]
}

// Bind adds h for events of kind k. Handlers bound to the same kind run
// in bind order.
func (p *EventPump) Bind(k EventKind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[k] = append(p.handlers[k], h)
}

// Unbind removes every handler for k.
func (p *EventPump) Unbind(k EventKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, k)
}

// Post queues ev for dispatch. It returns false once the pump has stopped.
func (p *EventPump) Post(ev Event) bool {
	return p.loop.Post(func() { p.dispatch(ev) })
}

func (p *EventPump) dispatch(ev Event) {
	if ev.Kind == EventQuit {
		p.loop.Quit()
		return
	}
	p.mu.Lock()
	hs := append([]Handler(nil), p.handlers[ev.Kind]...)
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// Run dispatches events until ctx ends, Quit is called or an EventQuit is
// dispatched.
func (p *EventPump) Run(ctx context.Context) error { return p.loop.Run(ctx) }

// Quit stops the pump without waiting for queued events.
func (p *EventPump) Quit() { p.loop.Quit() }

// Done is closed when Run has returned.
func (p *EventPump) Done() <-chan struct{} { return p.loop.Done() }
