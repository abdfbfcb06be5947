package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind distinguishes the four message shapes carried by a transport.
type Kind string

const (
	KindRequest Kind = "request"
	KindReply   Kind = "reply"
	KindEvent   Kind = "event"
	KindConsole Kind = "console"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindReply, KindEvent, KindConsole:
		return true
	}
	return false
}

// Message is the envelope for everything exchanged between an engine and
// its controller.
//
// Name is the verb for requests, the topic for events and the console
// message name for console traffic. Replies repeat the verb of the request
// they answer and carry its ID in ReplyTo.
type Message struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq,omitempty"`
	Kind    Kind            `json:"kind"`
	Name    string          `json:"name"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrMalformed is returned when a message cannot be decoded.
var ErrMalformed = errors.New("protocol: malformed message")

// NewID returns a time-sortable UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func newMessage(kind Kind, name string, payload any) (Message, error) {
	raw, err := Encode(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Message{ID: NewID(), Kind: kind, Name: name, Payload: raw}, nil
}

// NewRequest builds a request for verb. payload may be nil.
func NewRequest(verb string, payload any) (Message, error) {
	return newMessage(KindRequest, verb, payload)
}

// NewEvent builds a published event for topic.
func NewEvent(topic string, payload any) (Message, error) {
	return newMessage(KindEvent, topic, payload)
}

// NewConsole builds a console message.
func NewConsole(name string, payload any) (Message, error) {
	return newMessage(KindConsole, name, payload)
}

// MustRequest is NewRequest for payloads known to encode.
func MustRequest(verb string, payload any) Message {
	m, err := NewRequest(verb, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Reply builds the reply to m.
func (m Message) Reply(payload any) (Message, error) {
	r, err := newMessage(KindReply, m.Name, payload)
	if err != nil {
		return Message{}, err
	}
	r.ReplyTo = m.ID
	r.From = m.To
	r.To = m.From
	return r, nil
}

// ErrorReply builds a reply to m carrying err.
func (m Message) ErrorReply(err error) Message {
	return Message{
		ID:      NewID(),
		Kind:    KindReply,
		Name:    m.Name,
		ReplyTo: m.ID,
		From:    m.To,
		To:      m.From,
		Error:   err.Error(),
	}
}

// Err returns the reply's error, or nil.
func (m Message) Err() error {
	if m.Error == "" {
		return nil
	}
	return &RemoteError{Verb: m.Name, Msg: m.Error}
}

// Decode unmarshals the payload into v. An empty payload leaves v alone.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, m.Name, err)
	}
	return nil
}

// DecodeAs is Decode returning a fresh T.
func DecodeAs[T any](m Message) (T, error) {
	var v T
	err := m.Decode(&v)
	return v, err
}

// Encode marshals a payload. nil encodes to an empty payload.
func Encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the envelope fields every message must carry.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, m.Kind)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: missing name", ErrMalformed)
	}
	if m.Kind == KindReply && m.ReplyTo == "" {
		return fmt.Errorf("%w: reply without reply_to", ErrMalformed)
	}
	return nil
}

// RemoteError is an error reported by the other side in a reply.
type RemoteError struct {
	Verb string
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Verb, e.Msg)
}
