package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/rengine/internal/protocol"
)

// Local is an in-process transport. Every endpoint and every subscription
// gets its own mailbox goroutine, so a slow handler never reorders or
// blocks delivery to anyone else.
type Local struct {
	replies *replies

	mu        sync.RWMutex
	endpoints map[string]*mailbox
	subs      map[string][]subscription
	nextID    int
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

type subscription struct {
	id  int
	box *mailbox
}

// NewLocal returns an open in-process transport.
func NewLocal() *Local {
	return &Local{
		replies:   newReplies(),
		endpoints: make(map[string]*mailbox),
		subs:      make(map[string][]subscription),
		done:      make(chan struct{}),
	}
}

// Send implements Transport.
func (l *Local) Send(ctx context.Context, to string, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.To = to
	if l.replies.resolve(m) {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	box, ok := l.endpoints[to]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoEndpoint, to)
	}
	box.put(m)
	return nil
}

// Request implements Transport.
func (l *Local) Request(ctx context.Context, to string, m protocol.Message) (protocol.Message, error) {
	return l.replies.await(ctx, l.done, m, func(m protocol.Message) error {
		return l.Send(ctx, to, m)
	})
}

// Publish implements Transport. Publishing with no subscribers is not an
// error.
func (l *Local) Publish(ctx context.Context, topic string, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m = asEvent(topic, m)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, s := range l.subs[topic] {
		s.box.put(m)
	}
	if topic != AllTopics {
		for _, s := range l.subs[AllTopics] {
			s.box.put(m)
		}
	}
	return nil
}

// Subscribe implements Transport.
func (l *Local) Subscribe(topic string, h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	l.nextID++
	id := l.nextID
	box := l.newMailbox(h)
	l.subs[topic] = append(l.subs[topic], subscription{id: id, box: box})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.subs[topic]
		for i, s := range subs {
			if s.id == id {
				l.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				s.box.stop()
				return
			}
		}
	}
}

// Serve implements Transport.
func (l *Local) Serve(endpoint string, h Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if _, ok := l.endpoints[endpoint]; ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointTaken, endpoint)
	}
	box := l.newMailbox(h)
	l.endpoints[endpoint] = box
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.endpoints[endpoint] == box {
			delete(l.endpoints, endpoint)
			box.stop()
		}
	}, nil
}

// Done implements Transport.
func (l *Local) Done() <-chan struct{} { return l.done }

// Close stops every mailbox and waits for their goroutines. Messages not
// yet delivered are dropped.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.wg.Wait()
		return nil
	}
	l.closed = true
	for _, box := range l.endpoints {
		box.stop()
	}
	for _, subs := range l.subs {
		for _, s := range subs {
			s.box.stop()
		}
	}
	l.endpoints = map[string]*mailbox{}
	l.subs = map[string][]subscription{}
	close(l.done)
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

// asEvent fills the event envelope for a publish on topic.
func asEvent(topic string, m protocol.Message) protocol.Message {
	if m.Kind == "" {
		m.Kind = protocol.KindEvent
	}
	if m.Name == "" {
		m.Name = topic
	}
	if m.ID == "" {
		m.ID = protocol.NewID()
	}
	return m
}

// mailbox delivers messages to one handler, in order, on its own goroutine.
type mailbox struct {
	h Handler

	mu     sync.Mutex
	items  []protocol.Message
	signal chan struct{}
	quit   chan struct{}
	once   sync.Once
}

func (l *Local) newMailbox(h Handler) *mailbox {
	b := &mailbox{
		h:      h,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		b.loop()
	}()
	return b
}

func (b *mailbox) put(m protocol.Message) {
	b.mu.Lock()
	b.items = append(b.items, m)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *mailbox) pop() (protocol.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return protocol.Message{}, false
	}
	m := b.items[0]
	b.items[0] = protocol.Message{}
	b.items = b.items[1:]
	return m, true
}

func (b *mailbox) loop() {
	for {
		select {
		case <-b.quit:
			return
		default:
		}
		if m, ok := b.pop(); ok {
			b.h(m)
			continue
		}
		select {
		case <-b.quit:
			return
		case <-b.signal:
		}
	}
}

// stop ends delivery. It does not wait, so a handler may stop its own
// mailbox.
func (b *mailbox) stop() {
	b.once.Do(func() { close(b.quit) })
}
