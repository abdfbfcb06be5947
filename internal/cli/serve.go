package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rengine/internal/bus"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an engine over stdin/stdout",
		Long: `Run one engine speaking the control protocol as JSON lines on
stdin and stdout. The controller on the other end sends requests and
receives replies, events and console output. Logs go to stderr.

The engine exits on Shutdown, when the script calls exit(), or when stdin
closes.

Examples:
  rengine serve
  rengine serve --config engine.cue --db journal.db
  rengine serve --host internal`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	opts.bind(cmd)

	return cmd
}

func runServe(ctx context.Context, opts *EngineOptions, in io.Reader, out, errOut io.Writer) error {
	cfg, err := opts.resolve()
	if err != nil {
		return err
	}
	logger := newLogger(errOut, cfg.LogLevel)

	stream := bus.NewStream(in, out, bus.WithStreamLogger(logger))
	defer stream.Close()

	s, err := newSession(cfg, stream, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The engine notices a closed stdin as a disconnect; the watcher only
	// reports it.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.engine.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-stream.ReaderDone():
			logger.Info("controller closed the stream")
		case <-ctx.Done():
		}
		return nil
	})

	logger.Info("serving", "id", s.engine.ID(), "host", cfg.Host)
	err = g.Wait()
	logger.Info("engine stopped", "reason", err)
	return exitStatus(err)
}
