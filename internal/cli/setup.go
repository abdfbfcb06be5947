package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/config"
	"github.com/roach88/rengine/internal/engine"
	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/runloop"
	"github.com/roach88/rengine/internal/store"
)

// EngineOptions holds the flags shared by the commands that start an
// engine. Flags override the config file.
type EngineOptions struct {
	*RootOptions
	Config  string
	Host    string
	Journal string
}

func (o *EngineOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Config, "config", "c", "", "config file (.cue, .yaml)")
	cmd.Flags().StringVar(&o.Host, "host", "", "host kind (thread|idle|signal|event|internal)")
	cmd.Flags().StringVar(&o.Journal, "db", "", "journal database path")
}

// resolve loads the config file, if any, and applies flag overrides.
func (o *EngineOptions) resolve() (config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		var err error
		cfg, err = config.Load(o.Config)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if o.Host != "" {
		cfg.Host = o.Host
	}
	if o.Journal != "" {
		cfg.Journal = o.Journal
	}
	if o.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

// newLogger returns the text logger commands write diagnostics with.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session is an engine built from a config, with the resources it owns.
type session struct {
	engine  *engine.Engine
	journal *store.Store
	logger  *slog.Logger
}

// newSession builds an engine on t. The config's flags and tasks are
// applied before it runs.
func newSession(cfg config.Config, t bus.Transport, logger *slog.Logger) (*session, error) {
	adapter, err := runloop.New(cfg.Host, runloop.Options{PollInterval: cfg.PollInterval})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid host", err)
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPollInterval(cfg.PollInterval),
	}
	if cfg.Label != "" {
		opts = append(opts, engine.WithLabel(cfg.Label))
	}

	s := &session{logger: logger}
	if cfg.Journal != "" {
		logger.Info("opening journal", "path", cfg.Journal)
		st, err := store.Open(cfg.Journal)
		if err != nil {
			_ = adapter.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		s.journal = st
		opts = append(opts, engine.WithJournal(st))
	}
	s.engine = engine.New(t, adapter, opts...)

	names := make([]string, 0, len(cfg.Flags))
	for name := range cfg.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.engine.SetFlag(name, cfg.Flags[name]); err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "invalid flag", err)
		}
	}
	for _, path := range cfg.Tasks {
		src, err := os.ReadFile(path)
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to read task", err)
		}
		name, err := s.engine.RegisterScript(string(src))
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to register task %s", path), err)
		}
		logger.Debug("task registered", "task", name, "path", path)
	}
	return s, nil
}

// Close releases the journal.
func (s *session) Close() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Close(); err != nil {
		s.logger.Error("error closing journal", "error", err)
	}
}

// exitStatus maps the error Run returned to the command's result. A
// clean shutdown or a cancelled context is success.
func exitStatus(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrDisconnected) {
		return nil
	}
	if code, ok := engine.ExitCode(err); ok {
		if code == 0 {
			return nil
		}
		return NewExitError(code, fmt.Sprintf("engine exited with status %d", code))
	}
	return err
}

// manage waits for the engine to serve its endpoint and takes control of
// it.
func manage(ctx context.Context, c *bus.Client) (protocol.EngineInfo, error) {
	for {
		info, err := bus.CallAs[protocol.EngineInfo](ctx, c, protocol.VerbManage, protocol.ManageRequest{})
		if !errors.Is(err, bus.ErrNoEndpoint) {
			return info, err
		}
		select {
		case <-ctx.Done():
			return protocol.EngineInfo{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// drainName names the marker drain sends through a console endpoint.
const drainName = "cli.Drain"

// drain waits until the console messages sent to endpoint before the call
// have been handled. Handlers built by newPrinter recognise the marker.
func drain(ctx context.Context, t bus.Transport, endpoint string, p *printer) error {
	m := protocol.Message{ID: protocol.NewID(), Kind: protocol.KindConsole, Name: drainName}
	seen := p.expect(m.ID)
	if err := t.Send(ctx, endpoint, m); err != nil {
		return err
	}
	select {
	case <-seen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
