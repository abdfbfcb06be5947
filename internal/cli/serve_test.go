package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/protocol"
)

// peer is the controller end of a served engine's stdio.
type peer struct {
	t    *testing.T
	in   *io.PipeWriter
	msgs chan protocol.Message
}

func newPeer(t *testing.T, out io.Reader) *peer {
	p := &peer{t: t, msgs: make(chan protocol.Message, 256)}
	go func() {
		defer close(p.msgs)
		sc := bufio.NewScanner(out)
		for sc.Scan() {
			var m protocol.Message
			if json.Unmarshal(sc.Bytes(), &m) == nil {
				p.msgs <- m
			}
		}
	}()
	return p
}

func (p *peer) send(verb string, payload any) string {
	p.t.Helper()
	m, err := protocol.NewRequest(verb, payload)
	require.NoError(p.t, err)
	data, err := json.Marshal(m)
	require.NoError(p.t, err)
	_, err = p.in.Write(append(data, '\n'))
	require.NoError(p.t, err)
	return m.ID
}

// next returns the first message for which match is true, or false after
// timeout.
func (p *peer) next(timeout time.Duration, match func(protocol.Message) bool) (protocol.Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case m, ok := <-p.msgs:
			if !ok {
				return protocol.Message{}, false
			}
			if match(m) {
				return m, true
			}
		case <-deadline:
			return protocol.Message{}, false
		}
	}
}

func replyTo(id string) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.Kind == protocol.KindReply && m.ReplyTo == id }
}

func named(name string) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.Name == name }
}

func TestServe_JSONLines(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := newPeer(t, outR)
	p.in = inW

	opts := &EngineOptions{RootOptions: &RootOptions{Format: "text"}, Host: "internal"}
	errc := make(chan error, 1)
	go func() {
		errc <- runServe(context.Background(), opts, inR, outW, &syncBuffer{})
		outW.Close()
	}()

	// Requests sent before the engine serves its endpoint are dropped, so
	// Manage is repeated until it is answered.
	var info protocol.EngineInfo
	for i := 0; ; i++ {
		require.Less(t, i, 100, "engine never answered Manage")
		reply, ok := p.next(20*time.Millisecond, replyTo(p.send(protocol.VerbManage, protocol.ManageRequest{})))
		if ok {
			require.NoError(t, json.Unmarshal(reply.Payload, &info))
			break
		}
	}
	assert.NotEmpty(t, info.ID)

	p.send(protocol.VerbPush, protocol.Push{Line: "print(6 * 7)"})
	out, ok := p.next(2*time.Second, named(protocol.ConsoleWriteStdOut))
	require.True(t, ok)
	w, err := protocol.DecodeAs[protocol.Write](out)
	require.NoError(t, err)
	assert.Equal(t, "42\n", w.Text)

	p.send(protocol.VerbShutdown, nil)
	exiting, ok := p.next(2*time.Second, named(protocol.TopicEngineExiting))
	require.True(t, ok)
	assert.Equal(t, protocol.KindEvent, exiting.Kind)

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after Shutdown")
	}
	inW.Close()
}

func TestServe_StdinClosed(t *testing.T) {
	inR, inW := io.Pipe()
	opts := &EngineOptions{RootOptions: &RootOptions{Format: "text"}, Host: "internal"}
	errc := make(chan error, 1)
	go func() { errc <- runServe(context.Background(), opts, inR, io.Discard, &syncBuffer{}) }()

	inW.Close()
	select {
	case err := <-errc:
		assert.NoError(t, err, "a closed stdin is a clean stop")
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after stdin closed")
	}
}
