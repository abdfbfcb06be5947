package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/protocol"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_Scenarios(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"), "")
	require.NoError(t, err)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			requirePass(t, result)
		})
	}
}

func TestRun_Hello(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "hello"))
	require.NoError(t, err)
	requirePass(t, result)

	assert.Equal(t, "hello\n", result.Stdout)
	assert.Empty(t, result.Stderr)
	assert.Equal(t, protocol.State{}, result.State)
	assert.Equal(t, 1, result.Journal[journalKey(protocol.KindRequest, protocol.VerbEvalCommand)])
	assert.Equal(t, 1, result.Journal[journalKey(protocol.KindEvent, protocol.TopicEngineExiting)])
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "block")

	first, err := Run(s)
	require.NoError(t, err)
	requirePass(t, first)
	second, err := Run(s)
	require.NoError(t, err)
	requirePass(t, second)

	a, err := Transcript(s.Name, first)
	require.NoError(t, err)
	b, err := Transcript(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ThreadHost(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: thread
description: a unit on the thread host, awaited before the next step
host: thread
steps:
  - push: "print('hello')"
  - wait:
      for: State.Done
  - eval: "1 + 1"
    expect: "2"
assertions:
  - type: output_contains
    stream: stdout
    text: "hello"
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	requirePass(t, result)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestRun_StepFailureStopsScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: failing
description: an eval with the wrong expectation
steps:
  - eval: "1 + 1"
    expect: "3"
  - push: "print('unreached')"
assertions:
  - type: event_count
    name: State.Busy
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "steps[0] (eval): expected 3, got 2")
	assert.Empty(t, result.Stdout)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: no_error
description: an eval that succeeds where an error was expected
steps:
  - eval: "1"
    error: "SyntaxError"
assertions:
  - type: state
    busy: false
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected error containing "SyntaxError"`)
}

func TestRun_FailedAssertion(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_count
description: counts one unit as two
steps:
  - push: "x = 1"
assertions:
  - type: event_count
    name: State.Done
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: event_count")
}

func TestRun_UnknownHost(t *testing.T) {
	_, err := Run(loadTestScenario(t, "hello"), WithHost("tk"))
	assert.Error(t, err)
}
