package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/engine"
	"github.com/roach88/rengine/internal/protocol"
)

// ExitInterrupted is the status of a script stopped by a signal.
const ExitInterrupted = 130

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <file>",
		Short: "Execute a script file",
		Long: `Execute a script through one engine as a single unit. The script's
output is printed as it is produced.

Exit codes:
  0   - The script finished, or called exit() with status 0
  1   - Uncaught exception or syntax error
  2   - Command error (missing file, bad config, etc.)
  n   - The script called exit(n)
  130 - Interrupted

Examples:
  rengine exec script.rsc
  rengine exec --config engine.yaml script.rsc`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runExec(ctx, opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	opts.bind(cmd)

	return cmd
}

func runExec(ctx context.Context, opts *EngineOptions, path string, out, errOut io.Writer) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read script", err)
	}
	cfg, err := opts.resolve()
	if err != nil {
		return err
	}
	logger := newLogger(errOut, consoleLevel(opts, cfg.LogLevel))

	l := bus.NewLocal()
	defer l.Close()

	p := newPrinter(out, errOut, false)
	stop, err := l.Serve(engine.DefaultController, p.handle)
	if err != nil {
		return err
	}
	defer stop()

	// The first unit to end is the script.
	ended := make(chan protocol.Message, 1)
	onEnd := func(m protocol.Message) {
		select {
		case ended <- m:
		default:
		}
	}
	defer l.Subscribe(protocol.TopicStateDone, onEnd)()
	defer l.Subscribe(protocol.TopicStateStopped, onEnd)()

	s, err := newSession(cfg, l, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	client := bus.NewClient(l, engine.DefaultController, engine.DefaultEndpoint)
	var scriptErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error {
		if _, err := manage(gctx, client); err != nil {
			return err
		}
		res, err := bus.CallAs[protocol.Success](gctx, client, protocol.VerbExecCommand, protocol.ExecCommand{Source: string(src)})
		if err != nil {
			return err
		}
		switch {
		case !res.OK:
			scriptErr = NewExitError(ExitFailure, fmt.Sprintf("%s: %s", path, res.Reason))
		case res.Reason == engine.ReasonNothingToRun:
		default:
			var m protocol.Message
			select {
			case m = <-ended:
			case <-gctx.Done():
				return nil
			}
			if m.Name == protocol.TopicStateStopped {
				scriptErr = NewExitError(ExitInterrupted, "interrupted")
			} else {
				done, err := protocol.DecodeAs[protocol.Done](m)
				if err != nil {
					return err
				}
				switch done.Outcome {
				case protocol.OutcomeExit:
					// The engine shuts itself down with the script's status.
					return nil
				case protocol.OutcomeOK:
				default:
					scriptErr = NewExitError(ExitFailure, fmt.Sprintf("%s: %s", path, done.Error))
				}
			}
		}
		_, err = client.Call(gctx, protocol.VerbShutdown, nil)
		return err
	})
	err = g.Wait()

	dctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if derr := drain(dctx, l, engine.DefaultController, p); derr != nil {
		logger.Debug("script output not drained", "error", derr)
	}

	switch {
	case ctx.Err() != nil:
		return NewExitError(ExitInterrupted, "interrupted")
	case scriptErr != nil:
		return scriptErr
	}
	return exitStatus(err)
}
