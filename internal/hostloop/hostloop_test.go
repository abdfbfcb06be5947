package hostloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func runInBackground(t *testing.T, run func(context.Context) error) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- run(context.Background()) }()
	return errc
}

func TestLoopRunsInOrder(t *testing.T) {
	l := NewLoop()
	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	l.Post(func() { close(done) })

	errc := runInBackground(t, l.Run)
	<-done
	l.Quit()
	require.NoError(t, <-errc)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.False(t, l.Post(func() {}), "posting after quit fails")
	assert.ErrorIs(t, l.Run(context.Background()), ErrStopped)
}

func TestLoopStopsOnContext(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	require.Eventually(t, l.Running, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	<-l.Done()
}

func TestSignalDeliversOnLoop(t *testing.T) {
	l := NewLoop()
	sig := NewSignal(l)
	assert.False(t, sig.Emit(), "nothing connected")

	var mu sync.Mutex
	var calls []string
	hit := make(chan struct{}, 4)
	sig.Connect(func() {
		mu.Lock()
		calls = append(calls, "a")
		mu.Unlock()
		hit <- struct{}{}
	})
	disconnect := sig.Connect(func() {
		mu.Lock()
		calls = append(calls, "b")
		mu.Unlock()
		hit <- struct{}{}
	})
	assert.Equal(t, 2, sig.Connected())

	errc := runInBackground(t, l.Run)
	require.True(t, sig.Emit())
	<-hit
	<-hit

	disconnect()
	require.True(t, sig.Emit())
	<-hit
	l.Quit()
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"a", "b", "a"}, calls)
}

func TestIdleLoop(t *testing.T) {
	l := NewIdleLoop()
	order := make(chan string, 8)

	runs := 0
	l.AddIdle(func() bool {
		runs++
		order <- "idle"
		return runs < 2
	})
	l.Post(func() { order <- "posted" })

	errc := runInBackground(t, l.Run)
	assert.Equal(t, "posted", <-order, "posted work runs before idle work")
	assert.Equal(t, "idle", <-order)
	assert.Equal(t, "idle", <-order)

	id := l.AddIdle(func() bool { order <- "late"; return false })
	assert.Equal(t, "late", <-order)
	require.Eventually(t, func() bool { return !l.RemoveIdle(id) }, time.Second, time.Millisecond,
		"one-shot callbacks uninstall themselves")

	l.Quit()
	require.NoError(t, <-errc)
	assert.Equal(t, 0, l.AddIdle(func() bool { return false }))
}

func TestEventPump(t *testing.T) {
	p := NewEventPump()
	custom := p.RegisterKind("custom")
	assert.Equal(t, "custom", p.KindName(custom))
	assert.NotEqual(t, EventQuit, custom)

	got := make(chan any, 4)
	p.Bind(custom, func(ev Event) { got <- ev.Data })

	errc := runInBackground(t, p.Run)
	require.True(t, p.Post(Event{Kind: custom, Data: 1}))
	require.True(t, p.Post(Event{Kind: EventNone}))
	require.True(t, p.Post(Event{Kind: custom, Data: 2}))
	assert.Equal(t, 1, <-got)
	assert.Equal(t, 2, <-got)

	require.True(t, p.Post(Event{Kind: EventQuit}))
	require.NoError(t, <-errc)
	<-p.Done()
	assert.False(t, p.Post(Event{Kind: custom}))
}
