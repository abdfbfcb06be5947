package bus

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/rengine/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector gathers delivered messages for assertions.
type collector struct {
	mu  sync.Mutex
	got []protocol.Message
	ch  chan struct{}
}

func newCollector() *collector { return &collector{ch: make(chan struct{}, 64)} }

func (c *collector) handle(m protocol.Message) {
	c.mu.Lock()
	c.got = append(c.got, m)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []protocol.Message {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(time.Second):
			t.Fatalf("received %d of %d messages", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.got...)
}

func names(ms []protocol.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

// echo serves endpoint on tr, replying to every request with its own name.
func echo(t *testing.T, tr Transport, endpoint string) {
	t.Helper()
	stop, err := tr.Serve(endpoint, func(m protocol.Message) {
		reply, err := m.Reply(protocol.Push{Line: m.Name})
		if err != nil {
			return
		}
		_ = tr.Send(context.Background(), reply.To, reply)
	})
	require.NoError(t, err)
	t.Cleanup(stop)
}

func TestLocalSendPreservesOrder(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	c := newCollector()
	_, err := l.Serve("engine", c.handle)
	require.NoError(t, err)

	for _, verb := range []string{"a", "b", "c"} {
		require.NoError(t, l.Send(context.Background(), "engine", protocol.MustRequest(verb, nil)))
	}
	got := c.wait(t, 3)
	assert.Equal(t, []string{"a", "b", "c"}, names(got))
	assert.Equal(t, "engine", got[0].To)

	err = l.Send(context.Background(), "nobody", protocol.MustRequest("x", nil))
	assert.ErrorIs(t, err, ErrNoEndpoint)
	_, err = l.Serve("engine", c.handle)
	assert.ErrorIs(t, err, ErrEndpointTaken)
}

func TestLocalRequestReply(t *testing.T) {
	l := NewLocal()
	defer l.Close()
	echo(t, l, "engine")

	req := protocol.MustRequest(protocol.VerbGetState, nil)
	req.From = "controller"
	reply, err := l.Request(context.Background(), "engine", req)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindReply, reply.Kind)
	assert.Equal(t, req.ID, reply.ReplyTo)
	assert.Equal(t, "controller", reply.To)

	push, err := protocol.DecodeAs[protocol.Push](reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.VerbGetState, push.Line)
}

func TestLocalRequestHonorsContext(t *testing.T) {
	l := NewLocal()
	defer l.Close()
	_, err := l.Serve("silent", func(protocol.Message) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Request(ctx, "silent", protocol.MustRequest("x", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalPublishSubscribe(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	busy := newCollector()
	all := newCollector()
	unsubscribe := l.Subscribe(protocol.TopicStateBusy, busy.handle)
	l.Subscribe(AllTopics, all.handle)

	ctx := context.Background()
	require.NoError(t, l.Publish(ctx, protocol.TopicStateBusy, protocol.Message{}))
	require.NoError(t, l.Publish(ctx, protocol.TopicStateDone, protocol.Message{}))

	got := busy.wait(t, 1)
	assert.Equal(t, protocol.KindEvent, got[0].Kind)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, []string{protocol.TopicStateBusy, protocol.TopicStateDone}, names(all.wait(t, 2)))

	unsubscribe()
	require.NoError(t, l.Publish(ctx, protocol.TopicStateBusy, protocol.Message{}))
	all.wait(t, 1)
	busy.mu.Lock()
	assert.Len(t, busy.got, 1, "unsubscribed handler sees nothing more")
	busy.mu.Unlock()
}

func TestLocalClose(t *testing.T) {
	l := NewLocal()
	_, err := l.Serve("engine", func(protocol.Message) {})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	<-l.Done()
	assert.ErrorIs(t, l.Send(context.Background(), "engine", protocol.MustRequest("x", nil)), ErrClosed)
	assert.ErrorIs(t, l.Publish(context.Background(), "t", protocol.Message{}), ErrClosed)
	_, err = l.Serve("other", func(protocol.Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, l.Close())
}

// streamPair connects two Streams back to back.
func streamPair(t *testing.T) (engine, controller *Stream, hangup func()) {
	t.Helper()
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	engine = NewStream(r1, w2)
	controller = NewStream(r2, w1)
	var once sync.Once
	hangup = func() {
		once.Do(func() {
			w1.Close()
			w2.Close()
			<-engine.ReaderDone()
			<-controller.ReaderDone()
		})
	}
	t.Cleanup(hangup)
	return engine, controller, hangup
}

func TestStreamRequestReply(t *testing.T) {
	engine, controller, _ := streamPair(t)
	echo(t, engine, "engine")

	reply, err := controller.Request(context.Background(), "engine", protocol.MustRequest(protocol.VerbManage, nil))
	require.NoError(t, err)
	push, err := protocol.DecodeAs[protocol.Push](reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.VerbManage, push.Line)
}

func TestStreamRoutesEventsAndConsole(t *testing.T) {
	engine, controller, _ := streamPair(t)

	events := newCollector()
	controller.Subscribe(protocol.TopicStateBusy, events.handle)
	console := newCollector()
	_, err := controller.Serve("controller", console.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.Publish(ctx, protocol.TopicStateBusy, protocol.Message{}))
	out, err := protocol.NewConsole(protocol.ConsoleWriteStdOut, protocol.Write{Text: "hi\n"})
	require.NoError(t, err)
	require.NoError(t, engine.Send(ctx, "", out))

	assert.Equal(t, []string{protocol.TopicStateBusy}, names(events.wait(t, 1)))
	got := console.wait(t, 1)
	w, err := protocol.DecodeAs[protocol.Write](got[0])
	require.NoError(t, err)
	assert.Equal(t, "hi\n", w.Text, "an unaddressed message reaches the only endpoint")
}

func TestStreamDisconnect(t *testing.T) {
	engine, controller, hangup := streamPair(t)
	_, err := engine.Serve("engine", func(protocol.Message) {})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := controller.Request(context.Background(), "engine", protocol.MustRequest("x", nil))
		errc <- err
	}()

	hangup()
	<-engine.Done()
	<-controller.Done()
	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.ErrorIs(t, engine.Send(context.Background(), "engine", protocol.MustRequest("x", nil)), ErrClosed)
}
