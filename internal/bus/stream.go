package bus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/rengine/internal/protocol"
)

// maxLine bounds a single JSON line; large Exec sources travel in one line.
const maxLine = 8 << 20

// Stream is a transport speaking one JSON message per line over a
// reader/writer pair. Everything sent, requested or published is written
// to the peer; everything read from the peer is routed locally: replies to
// their Request, events to subscribers, other messages to the endpoint
// named in To.
//
// Done is closed when the reader ends (the peer went away), a write fails,
// or Close is called.
type Stream struct {
	r       io.Reader
	logger  *slog.Logger
	replies *replies

	wmu sync.Mutex
	w   io.Writer

	mu        sync.RWMutex
	endpoints map[string]Handler
	subs      map[string][]streamSub
	nextID    int

	done     chan struct{}
	doneOnce sync.Once
	readDone chan struct{}
}

type streamSub struct {
	id int
	h  Handler
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamLogger sets the logger used for undeliverable input.
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// NewStream starts reading from r.
func NewStream(r io.Reader, w io.Writer, opts ...StreamOption) *Stream {
	s := &Stream{
		r:         r,
		w:         w,
		logger:    slog.Default(),
		replies:   newReplies(),
		endpoints: make(map[string]Handler),
		subs:      make(map[string][]streamSub),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.read()
	return s
}

func (s *Stream) read() {
	defer close(s.readDone)
	defer s.disconnect()

	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m protocol.Message
		if err := json.Unmarshal(line, &m); err != nil {
			s.logger.Warn("dropping undecodable line", "error", err)
			continue
		}
		if err := m.Validate(); err != nil {
			s.logger.Warn("dropping invalid message", "error", err)
			continue
		}
		s.route(m)
	}
	if err := sc.Err(); err != nil {
		s.logger.Debug("stream reader stopped", "error", err)
	}
}

func (s *Stream) route(m protocol.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	if s.replies.resolve(m) {
		return
	}
	s.mu.RLock()
	var hs []Handler
	if m.Kind == protocol.KindEvent {
		for _, sub := range s.subs[m.Name] {
			hs = append(hs, sub.h)
		}
		for _, sub := range s.subs[AllTopics] {
			hs = append(hs, sub.h)
		}
	} else if h, ok := s.endpoint(m.To); ok {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	if len(hs) == 0 {
		s.logger.Debug("no receiver for message", "kind", m.Kind, "name", m.Name, "to", m.To)
		return
	}
	for _, h := range hs {
		h(m)
	}
}

// endpoint resolves to. An empty address goes to the only endpoint served,
// if there is exactly one. Callers hold s.mu.
func (s *Stream) endpoint(to string) (Handler, bool) {
	if h, ok := s.endpoints[to]; ok {
		return h, true
	}
	if to == "" && len(s.endpoints) == 1 {
		for _, h := range s.endpoints {
			return h, true
		}
	}
	return nil, false
}

func (s *Stream) write(m protocol.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode %s: %w", m.Name, err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		s.disconnect()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Send implements Transport.
func (s *Stream) Send(ctx context.Context, to string, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.To = to
	if m.ID == "" {
		m.ID = protocol.NewID()
	}
	return s.write(m)
}

// Request implements Transport.
func (s *Stream) Request(ctx context.Context, to string, m protocol.Message) (protocol.Message, error) {
	return s.replies.await(ctx, s.done, m, func(m protocol.Message) error {
		return s.Send(ctx, to, m)
	})
}

// Publish implements Transport. The event goes to the peer only.
func (s *Stream) Publish(ctx context.Context, topic string, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(asEvent(topic, m))
}

// Subscribe implements Transport for events read from the peer.
func (s *Stream) Subscribe(topic string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[topic] = append(s.subs[topic], streamSub{id: id, h: h})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[topic]
		for i, sub := range subs {
			if sub.id == id {
				s.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Serve implements Transport for messages read from the peer.
func (s *Stream) Serve(endpoint string, h Handler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[endpoint]; ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointTaken, endpoint)
	}
	s.endpoints[endpoint] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.endpoints, endpoint)
	}, nil
}

func (s *Stream) disconnect() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done implements Transport.
func (s *Stream) Done() <-chan struct{} { return s.done }

// ReaderDone is closed once the read goroutine has returned, which happens
// when the reader reports EOF or an error.
func (s *Stream) ReaderDone() <-chan struct{} { return s.readDone }

// Close stops writing and routing. The read goroutine ends when the reader
// does; close the reader to end it promptly.
func (s *Stream) Close() error {
	s.disconnect()
	return nil
}
