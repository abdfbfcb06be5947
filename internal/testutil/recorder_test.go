package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/protocol"
)

func TestRecorder_OrdersBySeq(t *testing.T) {
	l := bus.NewLocal()
	defer l.Close()

	rec, err := NewRecorder(l, "controller")
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	out, err := protocol.NewConsole(protocol.ConsoleWriteStdOut, protocol.Write{Text: "hi\n"})
	require.NoError(t, err)
	out.Seq = 2
	busy, err := protocol.NewEvent(protocol.TopicStateBusy, protocol.Busy{Unit: 1})
	require.NoError(t, err)
	busy.Seq = 1

	require.NoError(t, l.Send(ctx, "controller", out))
	require.NoError(t, l.Publish(ctx, protocol.TopicStateBusy, busy))

	_, err = rec.WaitFor(protocol.TopicStateBusy, 1, time.Second)
	require.NoError(t, err)
	_, err = rec.WaitFor(protocol.ConsoleWriteStdOut, 1, time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{protocol.TopicStateBusy, protocol.ConsoleWriteStdOut}, rec.Names(nil))
	assert.Equal(t, []string{protocol.TopicStateBusy}, rec.Names(Events))
	assert.Equal(t, "hi\n", rec.Stdout())
	assert.Equal(t, 1, rec.Count(protocol.ConsoleWriteStdOut))

	rec.Reset()
	assert.Empty(t, rec.Messages())
}

func TestRecorder_WaitForTimesOut(t *testing.T) {
	l := bus.NewLocal()
	defer l.Close()

	rec, err := NewRecorder(l, "controller")
	require.NoError(t, err)
	defer rec.Close()

	_, err = rec.WaitFor(protocol.TopicStateDone, 1, 10*time.Millisecond)
	assert.ErrorContains(t, err, "timed out")
}

func TestRecorder_Sync(t *testing.T) {
	l := bus.NewLocal()
	defer l.Close()

	rec, err := NewRecorder(l, "controller")
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		out, err := protocol.NewConsole(protocol.ConsoleWriteStdOut, protocol.Write{Text: "x"})
		require.NoError(t, err)
		out.Seq = uint64(i + 1)
		require.NoError(t, l.Send(ctx, "controller", out))
	}

	require.NoError(t, rec.Sync(time.Second))
	assert.Equal(t, 50, rec.Count(protocol.ConsoleWriteStdOut))
	assert.Len(t, rec.Messages(), 50, "markers are not recorded")
}
