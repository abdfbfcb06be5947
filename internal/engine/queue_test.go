package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/protocol"
)

func request(verb string) item {
	return item{msg: protocol.MustRequest(verb, nil)}
}

func TestInbox_FIFO(t *testing.T) {
	q := newInbox()
	for _, verb := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(request(verb)))
	}
	ran := false
	require.True(t, q.Enqueue(item{fn: func() { ran = true }}))
	assert.Equal(t, 4, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		it, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, it.msg.Name)
	}
	it, ok := q.TryDequeue()
	require.True(t, ok)
	it.fn()
	assert.True(t, ran)

	_, ok = q.TryDequeue()
	assert.False(t, ok, "dequeue from an empty inbox")
}

func TestInbox_CloseWakesWaiters(t *testing.T) {
	q := newInbox()
	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		<-q.Wait()
		close(woke)
	}()

	time.Sleep(5 * time.Millisecond)
	q.Close()
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiter")
	}
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(request("late")), "enqueue after close")
	q.Close()
}

func TestInbox_ItemsQueuedBeforeCloseSurvive(t *testing.T) {
	q := newInbox()
	q.Enqueue(request("kept"))
	q.Close()
	it, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "kept", it.msg.Name)
}

func TestInbox_ConcurrentProducers(t *testing.T) {
	q := newInbox()
	const producers, each = 10, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Enqueue(request(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		it, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[it.msg.Name] = true
	}
	assert.Len(t, seen, producers*each)
}
