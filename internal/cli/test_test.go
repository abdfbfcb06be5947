package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/harness"
)

const passingScenario = `name: greet
description: prints a greeting
steps:
  - push: "print('hi')"
assertions:
  - type: output_contains
    stream: stdout
    text: "hi"
`

const failingScenario = `name: broken
description: expects the wrong value
steps:
  - eval: "1 + 1"
    expect: "3"
assertions:
  - type: event_count
    name: State.Done
    count: 0
`

func testCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := testCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := testCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := testCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := testCmd(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandPassing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.yaml", passingScenario)

	out, err := testCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ greet")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFailing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.yaml", passingScenario)
	writeFile(t, dir, "broken.yaml", failingScenario)

	out, err := testCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken")
	assert.Contains(t, out, "expected 3, got 2")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFailingJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", failingScenario)

	out, err := testCmd(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "name: bad\ndescription: unknown step field\nsteps: [{frobnicate: 1}]\n")

	out, err := testCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.yaml", passingScenario)
	writeFile(t, dir, "broken.yaml", failingScenario)

	out, err := testCmd(t, "text", dir, "--filter", "gr*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "broken")
}

func TestTestCommandGolden(t *testing.T) {
	dir := t.TempDir()
	scenario := writeFile(t, dir, "greet.yaml", passingScenario)
	golden := harness.GoldenPath(scenario)

	out, err := testCmd(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ greet (golden updated)")

	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# greet\n")
	assert.Contains(t, string(data), `console Write.StdOut {"text":"hi\n"}`)

	_, err = testCmd(t, "text", dir)
	require.NoError(t, err, "the regenerated golden file matches")

	require.NoError(t, os.WriteFile(golden, []byte("# greet\n"), 0o644))
	out, err = testCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "transcript does not match")
	assert.Contains(t, out, filepath.Join("golden", "greet.golden"))
}

func TestTestHelpText(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	assert.Contains(t, cmd.Use, "test")
	assert.Contains(t, cmd.Short, "scenarios")
	assert.Contains(t, cmd.Long, "golden")
	assert.Contains(t, cmd.Long, "Exit codes")
}
