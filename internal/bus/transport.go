// Package bus carries protocol messages between an engine and its
// controller.
//
// The engine treats the substrate as a black box reached through
// Transport: addressed sends with optional replies, and topic
// publish/subscribe. Two implementations are provided. Local connects
// parties in one process. Stream speaks JSON lines over a reader/writer
// pair so an engine can be driven from another process over stdio.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/rengine/internal/protocol"
)

// AllTopics subscribes to every published topic.
const AllTopics = "*"

var (
	// ErrClosed is returned once the transport has been closed or the peer
	// has gone away.
	ErrClosed = errors.New("bus: transport closed")

	// ErrNoEndpoint is returned when a message is addressed to an endpoint
	// nobody serves.
	ErrNoEndpoint = errors.New("bus: no such endpoint")

	// ErrEndpointTaken is returned by Serve for an endpoint already served.
	ErrEndpointTaken = errors.New("bus: endpoint already served")
)

// Handler receives messages. Handlers run on a transport goroutine and must
// not block on the transport they were called from.
type Handler func(protocol.Message)

// Transport is the messaging substrate an engine is driven through.
type Transport interface {
	// Send delivers m to the endpoint to. Replies are matched against
	// outstanding Requests first.
	Send(ctx context.Context, to string, m protocol.Message) error

	// Request sends m to to and waits for the reply carrying its ID.
	Request(ctx context.Context, to string, m protocol.Message) (protocol.Message, error)

	// Publish broadcasts m on topic.
	Publish(ctx context.Context, topic string, m protocol.Message) error

	// Subscribe calls h for every message published on topic, in publish
	// order. AllTopics matches every topic.
	Subscribe(topic string, h Handler) (unsubscribe func())

	// Serve routes messages addressed to endpoint to h.
	Serve(endpoint string, h Handler) (stop func(), err error)

	// Done is closed when the transport is closed or disconnected.
	Done() <-chan struct{}

	// Close shuts the transport down.
	Close() error
}

// replies tracks Requests waiting for their reply.
type replies struct {
	mu      sync.Mutex
	waiters map[string]chan protocol.Message
}

func newReplies() *replies {
	return &replies{waiters: make(map[string]chan protocol.Message)}
}

func (r *replies) add(id string) chan protocol.Message {
	ch := make(chan protocol.Message, 1)
	r.mu.Lock()
	r.waiters[id] = ch
	r.mu.Unlock()
	return ch
}

func (r *replies) remove(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

// resolve hands a reply to its waiter. It reports whether one was waiting.
func (r *replies) resolve(m protocol.Message) bool {
	if m.Kind != protocol.KindReply || m.ReplyTo == "" {
		return false
	}
	r.mu.Lock()
	ch, ok := r.waiters[m.ReplyTo]
	delete(r.waiters, m.ReplyTo)
	r.mu.Unlock()
	if ok {
		ch <- m
	}
	return ok
}

// await sends through send and blocks for the matching reply.
func (r *replies) await(ctx context.Context, done <-chan struct{}, m protocol.Message, send func(protocol.Message) error) (protocol.Message, error) {
	if m.ID == "" {
		m.ID = protocol.NewID()
	}
	ch := r.add(m.ID)
	defer r.remove(m.ID)
	if err := send(m); err != nil {
		return protocol.Message{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-done:
		return protocol.Message{}, ErrClosed
	}
}
