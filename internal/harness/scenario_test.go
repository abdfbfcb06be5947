package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/runloop"
)

const minimalScenario = `
name: minimal
description: one push
steps:
  - push: "x = 1"
assertions:
  - type: event_count
    name: State.Done
    count: 1
`

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, runloop.KindInternal, s.Host)
	assert.Equal(t, DefaultTimeout, s.Timeout)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "push", s.Steps[0].action())
	assert.Equal(t, "x = 1", *s.Steps[0].Push)
}

func TestParseScenario_AllSteps(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: all
description: every step kind
host: thread
timeout: 2s
steps:
  - push: "a = 1"
  - exec: "b = 2\n"
    nowait: true
  - eval: "a + b"
    expect: "3"
  - register:
      source: "def t(g, l):\n    return 1\n"
  - task:
      name: t
      args: [1, "two", [3]]
  - stop: true
  - debug: "on"
  - debug: step_in
  - profile: "off"
  - setbp:
      file: "<console>"
      line: 3
      condition: "a > 0"
  - wait:
      for: State.Done
      count: 2
assertions:
  - type: state
    busy: false
`))
	require.NoError(t, err)

	assert.Equal(t, runloop.KindThread, s.Host)
	assert.Equal(t, 2*time.Second, s.Timeout)

	var actions []string
	for _, step := range s.Steps {
		actions = append(actions, step.action())
	}
	assert.Equal(t, []string{
		"push", "exec", "eval", "register", "task", "stop",
		"debug", "debug", "profile", "setbp", "wait",
	}, actions)
	assert.True(t, s.Steps[1].NoWait)
	assert.Equal(t, []any{1, "two", []any{3}}, s.Steps[4].Task.Args)
	assert.Equal(t, protocol.SetBP{File: "<console>", Line: 3, Condition: "a > 0"}, *s.Steps[9].SetBP)
	assert.Equal(t, WaitStep{For: protocol.TopicStateDone, Count: 2}, *s.Steps[10].Wait)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nstepz: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{push: a}]\nassertions: [{type: state, busy: false}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsteps: [{push: a}]\nassertions: [{type: state, busy: false}]\n",
			want: "description is required",
		},
		{
			name: "unknown host",
			yaml: "name: x\ndescription: d\nhost: gtk\nsteps: [{push: a}]\nassertions: [{type: state, busy: false}]\n",
			want: `unknown host "gtk"`,
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\nassertions: [{type: state, busy: false}]\n",
			want: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: "name: x\ndescription: d\nsteps: [{push: a}]\n",
			want: "assertions list is required",
		},
		{
			name: "two actions",
			yaml: "name: x\ndescription: d\nsteps: [{push: a, eval: b}]\nassertions: [{type: state, busy: false}]\n",
			want: "steps[0]: exactly one action is required",
		},
		{
			name: "unknown debug command",
			yaml: "name: x\ndescription: d\nsteps: [{debug: jump}]\nassertions: [{type: state, busy: false}]\n",
			want: `unknown debug command "jump"`,
		},
		{
			name: "bad profile",
			yaml: "name: x\ndescription: d\nsteps: [{profile: maybe}]\nassertions: [{type: state, busy: false}]\n",
			want: "profile must be on or off",
		},
		{
			name: "expect on push",
			yaml: "name: x\ndescription: d\nsteps: [{push: a, expect: b}]\nassertions: [{type: state, busy: false}]\n",
			want: "expect applies to eval and task steps only",
		},
		{
			name: "nowait on eval",
			yaml: "name: x\ndescription: d\nsteps: [{eval: a, nowait: true}]\nassertions: [{type: state, busy: false}]\n",
			want: "nowait applies to push and exec steps only",
		},
		{
			name: "bad breakpoint line",
			yaml: "name: x\ndescription: d\nsteps: [{setbp: {line: 0}}]\nassertions: [{type: state, busy: false}]\n",
			want: "setbp line must be positive",
		},
		{
			name: "wait without name",
			yaml: "name: x\ndescription: d\nsteps: [{wait: {count: 1}}]\nassertions: [{type: state, busy: false}]\n",
			want: "wait requires for",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nsteps: [{push: a}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "empty state assertion",
			yaml: "name: x\ndescription: d\nsteps: [{push: a}]\nassertions: [{type: state}]\n",
			want: "state requires at least one field",
		},
		{
			name: "bad stream",
			yaml: "name: x\ndescription: d\nsteps: [{push: a}]\nassertions: [{type: output_contains, stream: stdlog, text: a}]\n",
			want: "stream must be stdout or stderr",
		},
		{
			name: "journal count without kind",
			yaml: "name: x\ndescription: d\nsteps: [{push: a}]\nassertions: [{type: journal_count, name: Push, count: 1}]\n",
			want: "kind and name are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesTasks(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "task.yaml"))
	require.NoError(t, err)
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "tasks", "bump.rsc"), s.Tasks[0])
}

func TestLoadScenario_MissingTask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	data := "name: x\ndescription: d\ntasks: [nope.rsc]\nsteps: [{push: a}]\nassertions: [{type: state, busy: false}]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task file not found")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "golden/a.yaml", "nested/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestScenarioFiles_Parse(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"), "")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		_, err := LoadScenario(f)
		assert.NoError(t, err, f)
	}
}
