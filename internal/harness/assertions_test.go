package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/protocol"
)

func syntheticResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 3, Kind: protocol.KindEvent, Name: protocol.TopicStateBusy},
		{Seq: 4, Kind: protocol.KindEvent, Name: protocol.TopicLineProcessed},
		{Seq: 5, Kind: protocol.KindConsole, Name: protocol.ConsoleWriteStdOut},
		{Seq: 6, Kind: protocol.KindEvent, Name: protocol.TopicStateDone},
		{Seq: 7, Kind: protocol.KindConsole, Name: protocol.ConsolePrompt},
		{Seq: 9, Kind: protocol.KindConsole, Name: protocol.ConsolePrompt},
	}
	r.Stdout = "hello\n"
	r.Stderr = "Traceback (most recent call last):\n"
	r.State = protocol.State{Debugging: true}
	r.Journal[journalKey(protocol.KindRequest, protocol.VerbPush)] = 1
	return r
}

func boolPtr(b bool) *bool { return &b }

func TestAssertEventOrder(t *testing.T) {
	r := syntheticResult()

	tests := []struct {
		name  string
		names []string
		ok    bool
	}{
		{"subsequence", []string{protocol.TopicStateBusy, protocol.TopicStateDone}, true},
		{"repeated", []string{protocol.ConsolePrompt, protocol.ConsolePrompt}, true},
		{"reversed", []string{protocol.TopicStateDone, protocol.TopicStateBusy}, false},
		{"too many repeats", []string{protocol.ConsolePrompt, protocol.ConsolePrompt, protocol.ConsolePrompt}, false},
		{"absent", []string{protocol.TopicDebugPaused}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertEventOrder(r.Trace, Assertion{Type: AssertEventOrder, Names: tt.names})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertEventOrder_ErrorShowsTrace(t *testing.T) {
	r := syntheticResult()
	err := assertEventOrder(r.Trace, Assertion{Type: AssertEventOrder, Names: []string{protocol.TopicStateBusy, protocol.TopicDebugPaused}})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Actual, "missing Debug.Paused")
	assert.Contains(t, err.Error(), "[6] event State.Done")
}

func TestAssertEventCount(t *testing.T) {
	r := syntheticResult()
	assert.NoError(t, assertEventCount(r.Trace, Assertion{Name: protocol.ConsolePrompt, Count: 2}))
	assert.NoError(t, assertEventCount(r.Trace, Assertion{Name: protocol.TopicStateStopped, Count: 0}))
	assert.Error(t, assertEventCount(r.Trace, Assertion{Name: protocol.TopicStateDone, Count: 2}))
}

func TestAssertOutputContains(t *testing.T) {
	r := syntheticResult()
	assert.NoError(t, assertOutputContains(r, Assertion{Stream: "stdout", Text: "hello"}))
	assert.NoError(t, assertOutputContains(r, Assertion{Stream: "stderr", Text: "Traceback"}))
	assert.Error(t, assertOutputContains(r, Assertion{Stream: "stdout", Text: "Traceback"}))
}

func TestAssertState(t *testing.T) {
	r := syntheticResult()
	assert.NoError(t, assertState(r, Assertion{Debugging: boolPtr(true), Busy: boolPtr(false)}))

	err := assertState(r, Assertion{Debugging: boolPtr(false), Paused: boolPtr(false)})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "debugging=false, paused=false", ae.Expected)
	assert.Equal(t, "debugging=true", ae.Actual)
}

func TestAssertJournalCount(t *testing.T) {
	r := syntheticResult()
	assert.NoError(t, assertJournalCount(r, Assertion{Kind: protocol.KindRequest, Name: protocol.VerbPush, Count: 1}))
	assert.NoError(t, assertJournalCount(r, Assertion{Kind: protocol.KindRequest, Name: protocol.VerbStop, Count: 0}))
	assert.Error(t, assertJournalCount(r, Assertion{Kind: protocol.KindReply, Name: protocol.VerbPush, Count: 1}))
}

func TestEvaluateAssertions(t *testing.T) {
	r := syntheticResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertEventCount, Name: protocol.TopicStateDone, Count: 1},
		{Type: AssertOutputContains, Stream: "stdout", Text: "absent"},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "output_contains")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
