package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/engine"
	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/runloop"
	"github.com/roach88/rengine/internal/store"
	"github.com/roach88/rengine/internal/testutil"
)

// EngineID is the fixed identity of scenario engines.
const EngineID = "harness"

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger for the harness and its engine. The default
// discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithHost overrides the scenario's host kind.
func WithHost(kind string) Option {
	return func(r *runner) { r.host = kind }
}

// runner holds one scenario execution.
type runner struct {
	scenario *Scenario
	host     string
	logger   *slog.Logger
	timeout  time.Duration

	bus    *bus.Local
	client *bus.Client
	rec    *testutil.Recorder
	store  *store.Store
	result *Result

	debugging bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh engine with an in-memory journal.
// Execution flow:
// 1. Start the engine on a Local bus with a recording controller
// 2. Register the scenario's task files
// 3. Execute the steps in order
// 4. Read the final state and journal, then shut the engine down
// 5. Evaluate assertions against the recorded trace
//
// A step that fails is recorded in the result and stops the remaining
// steps. An error is returned only when the harness itself cannot run.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		scenario: scenario,
		host:     scenario.Host,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:  scenario.Timeout,
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.host == "" {
		r.host = runloop.KindInternal
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	st.SetClock(testutil.NewDeterministicClock(time.Millisecond).Now)
	r.store = st

	adapter, err := runloop.New(r.host, runloop.Options{PollInterval: time.Millisecond})
	if err != nil {
		return nil, err
	}

	r.bus = bus.NewLocal()
	defer r.bus.Close()
	rec, err := testutil.NewRecorder(r.bus, engine.DefaultController)
	if err != nil {
		return nil, err
	}
	defer rec.Close()
	r.rec = rec
	r.client = bus.NewClient(r.bus, engine.DefaultController, engine.DefaultEndpoint)

	eng := engine.New(r.bus, adapter,
		engine.WithIdentity(EngineID),
		engine.WithLabel(scenario.Name),
		engine.WithJournal(st),
		engine.WithLogger(r.logger),
		engine.WithPollInterval(5*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- eng.Run(ctx) }()

	if err := r.execute(); err != nil {
		r.result.AddError(err.Error())
	}
	r.finish(ctx)

	// Shutdown replies before the engine winds down.
	if _, err := r.call(protocol.VerbShutdown, nil); err != nil {
		r.logger.Debug("shutdown failed", "error", err)
	}
	select {
	case err := <-errc:
		if err != nil && !engine.IsExit(err) {
			r.logger.Debug("engine stopped with error", "error", err)
		}
	case <-time.After(r.timeout):
		cancel()
		<-errc
	}

	if err := rec.Sync(r.timeout); err != nil {
		r.result.AddError(err.Error())
	}

	counts, err := journalCounts(context.Background(), st)
	if err != nil {
		r.result.AddError(fmt.Sprintf("read journal: %v", err))
	} else {
		r.result.Journal = counts
	}

	r.result.Trace = traceOf(rec.Messages())
	r.result.Stdout = rec.Stdout()
	r.result.Stderr = rec.Stderr()

	for _, msg := range EvaluateAssertions(r.result, scenario.Assertions) {
		r.result.AddError(msg)
	}
	return r.result, nil
}

// execute waits for the engine, registers task files and runs the steps.
func (r *runner) execute() error {
	if err := r.awaitEngine(); err != nil {
		return err
	}
	for _, path := range r.scenario.Tasks {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read task %s: %w", path, err)
		}
		if _, err := r.call(protocol.VerbRegisterTask, protocol.RegisterTask{Source: string(src)}); err != nil {
			return fmt.Errorf("register task %s: %w", path, err)
		}
	}
	for i, step := range r.scenario.Steps {
		if err := r.step(step); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, step.action(), err)
		}
		r.logger.Info("step completed", "step", i, "action", step.action())
	}
	return nil
}

// awaitEngine blocks until the engine serves its endpoint and has taken
// the harness as its controller.
func (r *runner) awaitEngine() error {
	deadline := time.Now().Add(r.timeout)
	for {
		_, err := r.call(protocol.VerbManage, protocol.ManageRequest{})
		if err == nil {
			return nil
		}
		if !errors.Is(err, bus.ErrNoEndpoint) {
			return fmt.Errorf("manage: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("engine did not start within %s", r.timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *runner) call(verb string, payload any) (protocol.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Call(ctx, verb, payload)
}

func (r *runner) send(verb string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Send(ctx, verb, payload)
}

// step performs one step.
//
// Push and exec wait for their reply, which comes once the unit has ended
// under the internal host. While the debugger is on, or with nowait, they
// are sent without waiting since a paused unit holds its reply back;
// scenarios then use wait steps to synchronise. A wait step is followed by
// a state query, so idle work the engine queued before the awaited message
// has run before the next step.
func (r *runner) step(s Step) error {
	var (
		reply protocol.Message
		err   error
	)
	switch s.action() {
	case "push":
		if s.NoWait || r.debugging {
			return r.send(protocol.VerbPush, protocol.Push{Line: *s.Push})
		}
		_, err = r.call(protocol.VerbPush, protocol.Push{Line: *s.Push})
	case "exec":
		if s.NoWait || r.debugging {
			return r.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: *s.Exec})
		}
		_, err = r.call(protocol.VerbExecCommand, protocol.ExecCommand{Source: *s.Exec})
	case "wait":
		n := s.Wait.Count
		if n == 0 {
			n = 1
		}
		if _, err := r.rec.WaitFor(s.Wait.For, n, r.timeout); err != nil {
			return err
		}
		_, err := r.call(protocol.VerbGetState, nil)
		return err
	case "eval":
		reply, err = r.call(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: *s.Eval})
	case "task":
		var args protocol.List
		args, err = toList(s.Task.Args)
		if err != nil {
			return err
		}
		reply, err = r.call(protocol.VerbRunTask, protocol.RunTask{Name: s.Task.Name, Args: args})
	case "register":
		reply, err = r.call(protocol.VerbRegisterTask, protocol.RegisterTask{Name: s.Register.Name, Source: s.Register.Source})
	case "stop":
		reply, err = r.call(protocol.VerbStop, nil)
	case "debug":
		return r.debug(s)
	case "profile":
		return r.toggle(s, protocol.VerbProfileToggle, s.Profile == "on", func(st protocol.State) bool { return st.Profiling })
	case "setbp":
		reply, err = r.call(protocol.VerbDebugSetBP, *s.SetBP)
	default:
		return fmt.Errorf("no action")
	}
	if err := r.checkError(s, err); err != nil {
		return err
	}
	if s.Expect != nil && err == nil {
		res, err := protocol.DecodeAs[protocol.Result](reply)
		if err != nil {
			return err
		}
		if res.Repr != *s.Expect {
			return fmt.Errorf("expected %s, got %s", *s.Expect, res.Repr)
		}
	}
	return nil
}

func (r *runner) debug(s Step) error {
	if s.Debug == "on" || s.Debug == "off" {
		on := s.Debug == "on"
		err := r.toggle(s, protocol.VerbDebugToggle, on, func(st protocol.State) bool { return st.Debugging })
		if err == nil && s.Error == "" {
			r.debugging = on
		}
		return err
	}
	_, err := r.call(debugCommands[s.Debug], nil)
	return r.checkError(s, err)
}

// toggle switches a mode and checks the engine accepted the change. A
// refused toggle counts as an error reply.
func (r *runner) toggle(s Step, verb string, on bool, get func(protocol.State) bool) error {
	reply, err := r.call(verb, protocol.Toggle{Enabled: on})
	if err == nil {
		var st protocol.State
		st, err = protocol.DecodeAs[protocol.State](reply)
		if err == nil && get(st) != on {
			err = fmt.Errorf("%s: refused", verb)
		}
	}
	return r.checkError(s, err)
}

// checkError matches err against the step's expected error.
func (r *runner) checkError(s Step, err error) error {
	switch {
	case s.Error == "" && err != nil:
		return err
	case s.Error != "" && err == nil:
		return fmt.Errorf("expected error containing %q", s.Error)
	case s.Error != "" && !strings.Contains(err.Error(), s.Error):
		return fmt.Errorf("expected error containing %q, got %v", s.Error, err)
	}
	return nil
}

// finish captures the final state.
func (r *runner) finish(ctx context.Context) {
	st, err := bus.CallAs[protocol.State](ctx, r.client, protocol.VerbGetState, nil)
	switch {
	case errors.Is(err, bus.ErrNoEndpoint), err != nil && strings.Contains(err.Error(), "engine exiting"):
		// The engine already exited.
	case err != nil:
		r.result.AddError(fmt.Sprintf("final state: %v", err))
	default:
		r.result.State = st
	}
}

// journalCounts tallies the journal by kind and name.
func journalCounts(ctx context.Context, st *store.Store) (map[string]int, error) {
	records, err := st.Messages(ctx, store.Filter{EngineID: EngineID})
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, rec := range records {
		counts[journalKey(rec.Message.Kind, rec.Message.Name)]++
	}
	return counts, nil
}

func journalKey(kind protocol.Kind, name string) string {
	return string(kind) + " " + name
}

func toList(args []any) (protocol.List, error) {
	out := make(protocol.List, len(args))
	for i, a := range args {
		v, err := protocol.FromAny(normalize(a))
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// normalize converts YAML-decoded values to the shapes FromAny accepts.
func normalize(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case uint64:
		return int64(val)
	default:
		return v
	}
}

// traceOf keeps the events and console messages of msgs.
func traceOf(msgs []protocol.Message) []TraceEvent {
	trace := []TraceEvent{}
	for _, m := range msgs {
		if m.Kind != protocol.KindEvent && m.Kind != protocol.KindConsole {
			continue
		}
		trace = append(trace, TraceEvent{Seq: m.Seq, Kind: m.Kind, Name: m.Name, Payload: m.Payload})
	}
	return trace
}
