// Package config loads engine configuration from CUE or YAML files.
//
// Both formats are validated against one embedded CUE schema, which also
// supplies the defaults. Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ErrUnsupportedFormat is returned for files that are neither CUE nor YAML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the resolved engine configuration.
type Config struct {
	Label        string
	Host         string
	PollInterval time.Duration
	Journal      string
	LogLevel     slog.Level
	Flags        map[string]bool
	Tasks        []string
}

// file mirrors the schema's field names. Pointer fields distinguish absent
// keys from zero values so the schema defaults can fill them in.
type file struct {
	Label        *string         `yaml:"label"`
	Host         *string         `yaml:"host"`
	PollInterval *string         `yaml:"poll_interval"`
	Journal      *string         `yaml:"journal"`
	LogLevel     *string         `yaml:"log_level"`
	Flags        map[string]bool `yaml:"flags"`
	Tasks        []string        `yaml:"tasks"`
}

// fields returns the keys present in the document.
func (f file) fields() map[string]any {
	out := map[string]any{}
	set := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	set("label", f.Label)
	set("host", f.Host)
	set("poll_interval", f.PollInterval)
	set("journal", f.Journal)
	set("log_level", f.LogLevel)
	if f.Flags != nil {
		out["flags"] = f.Flags
	}
	if f.Tasks != nil {
		out["tasks"] = f.Tasks
	}
	return out
}

// resolved is the concrete value decoded from the unified schema.
type resolved struct {
	Label        string          `json:"label"`
	Host         string          `json:"host"`
	PollInterval string          `json:"poll_interval"`
	Journal      string          `json:"journal"`
	LogLevel     string          `json:"log_level"`
	Flags        map[string]bool `json:"flags"`
	Tasks        []string        `json:"tasks"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg, err := build(nil)
	if err != nil {
		// The embedded schema resolves on its own.
		panic(fmt.Sprintf("config: default: %v", err))
	}
	return cfg
}

// Load reads the configuration file at path. The format follows the
// extension: .cue, or .yaml/.yml. Relative task paths are resolved
// against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		cfg, err = ParseCUE(path, data)
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i, t := range cfg.Tasks {
		if !filepath.IsAbs(t) {
			cfg.Tasks[i] = filepath.Join(dir, t)
		}
	}
	return cfg, nil
}

// ParseYAML parses a YAML configuration document. Unknown keys are errors.
func ParseYAML(data []byte) (Config, error) {
	var f file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return build(func(ctx *cue.Context) cue.Value { return ctx.Encode(f.fields()) })
}

// ParseCUE parses a CUE configuration document with top-level fields.
func ParseCUE(filename string, data []byte) (Config, error) {
	return build(func(ctx *cue.Context) cue.Value {
		return ctx.CompileBytes(data, cue.Filename(filename))
	})
}

// build unifies the value produced by source with the schema and decodes
// the result. A nil source yields the schema defaults.
func build(source func(ctx *cue.Context) cue.Value) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def
	if source != nil {
		src := source(ctx)
		if err := src.Err(); err != nil {
			return Config{}, fmt.Errorf("parse cue: %s", describe(err))
		}
		if err := checkFields(def, src); err != nil {
			return Config{}, err
		}
		v = def.Unify(src)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config: %s", describe(err))
	}

	var r resolved
	if err := v.Decode(&r); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return r.config()
}

// checkFields rejects top-level fields the schema does not declare, so a
// misspelt CUE key fails the same way a misspelt YAML key does.
func checkFields(def, src cue.Value) error {
	iter, err := src.Fields()
	if err != nil {
		return fmt.Errorf("config must be a struct: %s", describe(err))
	}
	var unknown []string
	for iter.Next() {
		label := iter.Selector().String()
		if !def.LookupPath(cue.MakePath(iter.Selector())).Exists() {
			unknown = append(unknown, label)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown config fields: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func (r resolved) config() (Config, error) {
	interval, err := time.ParseDuration(r.PollInterval)
	if err != nil {
		return Config{}, fmt.Errorf("poll_interval: %w", err)
	}
	if interval <= 0 {
		return Config{}, fmt.Errorf("poll_interval must be positive, got %s", r.PollInterval)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(r.LogLevel)); err != nil {
		return Config{}, fmt.Errorf("log_level: %w", err)
	}

	flags := r.Flags
	if flags == nil {
		flags = map[string]bool{}
	}
	tasks := r.Tasks
	if tasks == nil {
		tasks = []string{}
	}

	return Config{
		Label:        r.Label,
		Host:         r.Host,
		PollInterval: interval,
		Journal:      r.Journal,
		LogLevel:     level,
		Flags:        flags,
		Tasks:        tasks,
	}, nil
}

// FlagNames returns the configured flag names in sorted order.
func (c Config) FlagNames() []string {
	names := make([]string, 0, len(c.Flags))
	for name := range c.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// describe flattens a CUE error list into one line per error.
func describe(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, cueerrors.Details(e, nil))
	}
	return strings.Join(msgs, "; ")
}
