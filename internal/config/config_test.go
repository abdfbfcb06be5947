package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "thread", cfg.Host)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.Label)
	assert.Empty(t, cfg.Journal)
	assert.NotNil(t, cfg.Flags)
	assert.NotNil(t, cfg.Tasks)
}

func TestParseYAML(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
label: worker
host: internal
poll_interval: 5ms
log_level: debug
flags:
  division: false
tasks: [a.rs, b.rs]
`))
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Label)
	assert.Equal(t, "internal", cfg.Host)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, map[string]bool{"division": false}, cfg.Flags)
	assert.Equal(t, []string{"a.rs", "b.rs"}, cfg.Tasks)
}

func TestParseYAML_Empty(t *testing.T) {
	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "hots: thread\n", "hots"},
		{"bad host", "host: gtk\n", "invalid config"},
		{"bad interval", "poll_interval: soon\n", "invalid config"},
		{"zero interval", "poll_interval: 0s\n", "positive"},
		{"unknown flag", "flags:\n  nested_scopes: true\n", "invalid config"},
		{"bad level", "log_level: loud\n", "invalid config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseCUE(t *testing.T) {
	cfg, err := ParseCUE("engine.cue", []byte(`
label: "cue engine"
host:  "signal"
flags: display: false
`))
	require.NoError(t, err)
	assert.Equal(t, "cue engine", cfg.Label)
	assert.Equal(t, "signal", cfg.Host)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, map[string]bool{"display": false}, cfg.Flags)
}

func TestParseCUE_UnknownField(t *testing.T) {
	_, err := ParseCUE("engine.cue", []byte(`colour: "blue"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config fields: colour")
}

func TestParseCUE_Syntax(t *testing.T) {
	_, err := ParseCUE("engine.cue", []byte(`label: "unterminated`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cue")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("tasks: [tasks/greet.rs, /abs/t.rs]\n"), 0o644))
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "tasks", "greet.rs"), "/abs/t.rs"}, cfg.Tasks)

	cuePath := filepath.Join(dir, "engine.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte(`journal: "j.db"`), 0o644))
	cfg, err = Load(cuePath)
	require.NoError(t, err)
	assert.Equal(t, "j.db", cfg.Journal)

	txtPath := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(txtPath, nil, 0o644))
	_, err = Load(txtPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFlagNames(t *testing.T) {
	cfg := Config{Flags: map[string]bool{"display": true, "division": false}}
	assert.Equal(t, []string{"display", "division"}, cfg.FlagNames())
}
