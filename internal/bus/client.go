package bus

import (
	"context"
	"fmt"

	"github.com/roach88/rengine/internal/protocol"
)

// Client issues requests to one engine endpoint on behalf of a controller.
type Client struct {
	t    Transport
	from string
	to   string
}

// NewClient returns a client that sends from the endpoint from to the
// engine endpoint to.
func NewClient(t Transport, from, to string) *Client {
	return &Client{t: t, from: from, to: to}
}

// Transport returns the transport the client sends on.
func (c *Client) Transport() Transport { return c.t }

func (c *Client) message(verb string, payload any) (protocol.Message, error) {
	m, err := protocol.NewRequest(verb, payload)
	if err != nil {
		return protocol.Message{}, err
	}
	m.From = c.from
	return m, nil
}

// Call sends verb and waits for the reply. An error reply is returned
// as the reply's error, alongside the reply itself.
func (c *Client) Call(ctx context.Context, verb string, payload any) (protocol.Message, error) {
	m, err := c.message(verb, payload)
	if err != nil {
		return protocol.Message{}, err
	}
	reply, err := c.t.Request(ctx, c.to, m)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%s: %w", verb, err)
	}
	return reply, reply.Err()
}

// CallAs is Call followed by decoding the reply payload into T.
func CallAs[T any](ctx context.Context, c *Client, verb string, payload any) (T, error) {
	var zero T
	reply, err := c.Call(ctx, verb, payload)
	if err != nil {
		return zero, err
	}
	v, err := protocol.DecodeAs[T](reply)
	if err != nil {
		return zero, fmt.Errorf("%s reply: %w", verb, err)
	}
	return v, nil
}

// Send delivers verb without waiting for the reply.
func (c *Client) Send(ctx context.Context, verb string, payload any) error {
	m, err := c.message(verb, payload)
	if err != nil {
		return err
	}
	return c.t.Send(ctx, c.to, m)
}
