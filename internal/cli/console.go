package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/engine"
	"github.com/roach88/rengine/internal/protocol"
)

// NewConsoleCommand creates the console command.
func NewConsoleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive console on an in-process engine",
		Long: `Start an engine in this process and drive it from the terminal.

Lines are pushed to the engine as typed. Ctrl-C interrupts the running
unit; end of input shuts the engine down. Lines starting with a colon are
console commands:

  :state              show the engine state
  :tasks              list registered tasks
  :stop               interrupt the running unit
  :debug on|off       switch the debugger
  :profile on|off     switch the profiler
  :stats              show profiler statistics
  :quit               shut the engine down

Examples:
  rengine console
  rengine console --host idle --db journal.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt)
			defer signal.Stop(interrupts)
			return runConsole(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), interrupts)
		},
	}
	opts.bind(cmd)

	return cmd
}

// consoleLevel keeps engine logs out of the way of the console unless
// asked for.
func consoleLevel(opts *EngineOptions, level slog.Level) slog.Level {
	if opts.Verbose {
		return slog.LevelDebug
	}
	return max(level, slog.LevelWarn)
}

func runConsole(ctx context.Context, opts *EngineOptions, in io.Reader, out, errOut io.Writer, interrupts <-chan os.Signal) error {
	cfg, err := opts.resolve()
	if err != nil {
		return err
	}
	logger := newLogger(errOut, consoleLevel(opts, cfg.LogLevel))

	l := bus.NewLocal()
	defer l.Close()

	p := newPrinter(out, errOut, true)
	stop, err := l.Serve(engine.DefaultController, p.handle)
	if err != nil {
		return err
	}
	defer stop()

	s, err := newSession(cfg, l, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	c := &console{
		client:     bus.NewClient(l, engine.DefaultController, engine.DefaultEndpoint),
		out:        out,
		errOut:     errOut,
		interrupts: interrupts,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error {
		info, err := manage(gctx, c.client)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rengine %s on the %s host\n%s", info.Version, info.Host, engine.PromptPrimary)
		return c.loop(gctx, scanLines(gctx, in))
	})
	err = exitStatus(g.Wait())

	dctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if derr := drain(dctx, l, engine.DefaultController, p); derr != nil {
		logger.Debug("console output not drained", "error", derr)
	}
	return err
}

// scanLines reads lines from r until it ends or ctx is done. A read in
// progress is not interrupted.
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// console is the controller side of an interactive session.
type console struct {
	client     *bus.Client
	out        io.Writer
	errOut     io.Writer
	interrupts <-chan os.Signal
}

var errQuit = errors.New("quit")

func (c *console) loop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.interrupts:
			if err := c.client.Send(ctx, protocol.VerbStop, nil); err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				return c.shutdown(ctx)
			}
			if strings.HasPrefix(line, ":") {
				err := c.command(ctx, strings.Fields(line[1:]))
				if errors.Is(err, errQuit) {
					return c.shutdown(ctx)
				}
				if err != nil {
					fmt.Fprintf(c.errOut, "error: %v\n", err)
				}
				continue
			}
			if err := c.client.Send(ctx, protocol.VerbPush, protocol.Push{Line: line}); err != nil {
				return err
			}
		}
	}
}

// shutdown lets the pushed input finish, then stops the engine.
func (c *console) shutdown(ctx context.Context) error {
	for {
		st, err := bus.CallAs[protocol.State](ctx, c.client, protocol.VerbGetState, nil)
		if err != nil {
			return nil
		}
		if !st.Busy {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, err := c.client.Call(ctx, protocol.VerbShutdown, nil); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *console) command(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	switch args[0] {
	case "quit", "q":
		return errQuit
	case "stop":
		_, err := c.client.Call(ctx, protocol.VerbStop, nil)
		return err
	case "state":
		st, err := bus.CallAs[protocol.State](ctx, c.client, protocol.VerbGetState, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, formatState(st))
	case "tasks":
		tasks, err := bus.CallAs[protocol.Tasks](ctx, c.client, protocol.VerbGetTasks, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, strings.Join(tasks.Names, "\n"))
	case "debug", "profile":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return fmt.Errorf("usage: :%s on|off", args[0])
		}
		verb := protocol.VerbDebugToggle
		if args[0] == "profile" {
			verb = protocol.VerbProfileToggle
		}
		st, err := bus.CallAs[protocol.State](ctx, c.client, verb, protocol.Toggle{Enabled: args[1] == "on"})
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, formatState(st))
	case "stats":
		stats, err := bus.CallAs[protocol.ProfileStats](ctx, c.client, protocol.VerbProfileStats, nil)
		if err != nil {
			return err
		}
		for _, e := range stats.Entries {
			fmt.Fprintf(c.out, "%-24s %8d calls %12s total %12s max\n",
				e.Name, e.Calls, time.Duration(e.TotalNS), time.Duration(e.MaxNS))
		}
	default:
		return fmt.Errorf("unknown command :%s", args[0])
	}
	return nil
}

func formatState(st protocol.State) string {
	return fmt.Sprintf("busy=%t debugging=%t profiling=%t paused=%t",
		st.Busy, st.Debugging, st.Profiling, st.Paused)
}
