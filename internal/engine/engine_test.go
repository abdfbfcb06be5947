package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/compiler"
	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/runloop"
	"github.com/roach88/rengine/internal/task"
	"github.com/roach88/rengine/internal/testutil"
)

const wait = 2 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixture is an engine running on a Local bus with a recording controller.
type fixture struct {
	t   *testing.T
	bus *bus.Local
	eng *Engine
	rec *testutil.Recorder

	cancel  context.CancelFunc
	errc    chan error
	once    sync.Once
	exitErr error
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func start(t *testing.T, kind string, opts ...Option) *fixture {
	t.Helper()
	l := bus.NewLocal()
	rec, err := testutil.NewRecorder(l, DefaultController)
	require.NoError(t, err)
	a, err := runloop.New(kind, runloop.Options{PollInterval: time.Millisecond})
	require.NoError(t, err)

	opts = append([]Option{WithLogger(quietLogger()), WithPollInterval(5 * time.Millisecond)}, opts...)
	f := &fixture{
		t:    t,
		bus:  l,
		eng:  New(l, a, opts...),
		rec:  rec,
		errc: make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.errc <- f.eng.Run(ctx) }()

	require.Eventually(t, func() bool {
		m, err := protocol.NewRequest(protocol.VerbGetState, nil)
		if err != nil {
			return false
		}
		m.From = DefaultController
		rctx, rcancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer rcancel()
		_, err = l.Request(rctx, DefaultEndpoint, m)
		return err == nil
	}, wait, time.Millisecond, "engine never served its endpoint")

	t.Cleanup(func() {
		f.cancel()
		f.wait()
		rec.Close()
		l.Close()
	})
	return f
}

// wait returns what Run returned.
func (f *fixture) wait() error {
	f.once.Do(func() {
		select {
		case f.exitErr = <-f.errc:
		case <-time.After(wait):
			f.t.Errorf("engine did not stop")
		}
	})
	return f.exitErr
}

func (f *fixture) message(verb string, payload any) protocol.Message {
	f.t.Helper()
	m, err := protocol.NewRequest(verb, payload)
	require.NoError(f.t, err)
	m.From = DefaultController
	return m
}

// request sends a request and waits for its reply.
func (f *fixture) request(verb string, payload any) protocol.Message {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	reply, err := f.bus.Request(ctx, DefaultEndpoint, f.message(verb, payload))
	require.NoError(f.t, err, verb)
	return reply
}

// send delivers a request without waiting. The reply is recorded.
func (f *fixture) send(verb string, payload any) {
	f.t.Helper()
	require.NoError(f.t, f.bus.Send(context.Background(), DefaultEndpoint, f.message(verb, payload)))
}

func (f *fixture) push(lines ...string) {
	f.t.Helper()
	for _, line := range lines {
		f.request(protocol.VerbPush, protocol.Push{Line: line})
	}
}

func (f *fixture) await(name string, n int) protocol.Message {
	f.t.Helper()
	m, err := f.rec.WaitFor(name, n, wait)
	require.NoError(f.t, err)
	return m
}

func decodeAs[T any](t *testing.T, m protocol.Message) T {
	t.Helper()
	require.NoError(t, m.Err())
	v, err := protocol.DecodeAs[T](m)
	require.NoError(t, err)
	return v
}

func TestEngine_Manage(t *testing.T) {
	f := start(t, runloop.KindThread, WithLabel("test"), WithIdentity("engine-1"))

	info := decodeAs[protocol.EngineInfo](t, f.request(protocol.VerbManage, protocol.ManageRequest{}))
	assert.Equal(t, "engine-1", info.ID)
	assert.Equal(t, "test", info.Label)
	assert.Equal(t, LanguageType, info.Type)
	assert.Equal(t, runloop.KindThread, info.Host)
	assert.Contains(t, info.Tasks, "names")

	st := decodeAs[protocol.State](t, f.request(protocol.VerbGetState, nil))
	assert.Equal(t, protocol.State{}, st)
}

func TestEngine_UnknownVerb(t *testing.T) {
	f := start(t, runloop.KindThread)
	reply := f.request("Bogus", nil)
	require.Error(t, reply.Err())
	assert.Contains(t, reply.Error, string(ErrCodeProtocol))
}

func TestEngine_Adapters(t *testing.T) {
	for _, kind := range runloop.Kinds() {
		t.Run(kind, func(t *testing.T) {
			f := start(t, kind)
			f.push("print(1 + 1)")
			done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
			assert.Equal(t, protocol.OutcomeOK, done.Outcome)
			assert.False(t, done.State.Busy)

			f.await(protocol.ConsolePrompt, 1)
			assert.Equal(t, "2\n", f.rec.Stdout())
			assert.Equal(t,
				[]string{protocol.TopicStateBusy, protocol.TopicLineProcessed, protocol.TopicStateDone},
				f.rec.Names(testutil.Events))
		})
	}
}

func TestEngine_MultiLineBlock(t *testing.T) {
	f := start(t, runloop.KindThread)

	first := decodeAs[protocol.LineProcessed](t, f.request(protocol.VerbPush, protocol.Push{Line: "if True:"}))
	assert.True(t, first.NeedMore)
	prompt := decodeAs[protocol.Prompt](t, f.await(protocol.ConsolePrompt, 1))
	assert.Equal(t, PromptSecondary, prompt.Text)

	f.push("    x = 6", "    print(x * 7)")
	assert.Zero(t, f.rec.Count(protocol.TopicStateBusy), "an open block does not run")

	f.push("")
	f.await(protocol.TopicStateDone, 1)
	prompt = decodeAs[protocol.Prompt](t, f.await(protocol.ConsolePrompt, 4))
	assert.Equal(t, PromptPrimary, prompt.Text)
	assert.Equal(t, "42\n", f.rec.Stdout())
}

func TestEngine_Traceback(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.push("1/0")

	done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
	assert.Equal(t, protocol.OutcomeException, done.Outcome)
	assert.Equal(t, "ZeroDivisionError: division by zero", done.Error)

	f.await(protocol.ConsolePrompt, 1)
	assert.Equal(t, "Traceback (most recent call last):\n"+
		"  File \"<console>\", line 1, in <module>\n"+
		"    1/0\n"+
		"ZeroDivisionError: division by zero\n", f.rec.Stderr())
}

func TestEngine_SyntaxError(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.push("x = = 1")

	f.await(protocol.ConsolePrompt, 1)
	assert.Contains(t, f.rec.Stderr(), "SyntaxError")
	assert.Contains(t, f.rec.Stderr(), "line 1")
	assert.Zero(t, f.rec.Count(protocol.TopicStateBusy))
}

func TestEngine_Stop(t *testing.T) {
	for _, kind := range runloop.Kinds() {
		t.Run(kind, func(t *testing.T) {
			f := start(t, kind)
			f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "while True:\n    pass\n"})
			f.await(protocol.TopicStateBusy, 1)

			require.NoError(t, f.request(protocol.VerbStop, nil).Err())
			stopped := decodeAs[protocol.Stopped](t, f.await(protocol.TopicStateStopped, 1))
			assert.False(t, stopped.State.Busy)
			assert.Zero(t, f.rec.Count(protocol.TopicStateDone), "a stopped unit reports Stopped only")

			f.await(protocol.ConsolePrompt, 1)
			assert.Equal(t, "KeyboardInterrupt\n", f.rec.Stderr())

			f.push("print('after')")
			f.await(protocol.TopicStateDone, 1)
			assert.Equal(t, "after\n", f.rec.Stdout())
		})
	}
}

func TestEngine_StopIdleClearsBuffer(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.push("if True:")
	require.NoError(t, f.request(protocol.VerbStop, nil).Err())
	prompt := decodeAs[protocol.Prompt](t, f.await(protocol.ConsolePrompt, 2))
	assert.Equal(t, PromptPrimary, prompt.Text)

	f.push("print('fresh')")
	f.await(protocol.TopicStateDone, 1)
	assert.Equal(t, "fresh\n", f.rec.Stdout())
}

func TestEngine_QueuedLinesReplay(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "sleep(0.2)"})
	f.await(protocol.TopicStateBusy, 1)

	ack := decodeAs[protocol.LineProcessed](t, f.request(protocol.VerbPush, protocol.Push{Line: "y = 5"}))
	assert.True(t, ack.Queued)

	f.await(protocol.TopicStateDone, 2)
	res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "y"}))
	assert.Equal(t, "5", res.Repr)
	assert.Equal(t, "int", res.Type)
}

func TestEngine_QuietRequestWhileBusy(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "while True:\n    pass\n"})
	f.await(protocol.TopicStateBusy, 1)

	reply := f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "1"})
	assert.EqualError(t, reply.Err(), protocol.VerbEvalCommand+": "+ErrBusy.Error())

	f.request(protocol.VerbStop, nil)
	f.await(protocol.TopicStateStopped, 1)
}

func TestEngine_Stdin(t *testing.T) {
	for _, kind := range []string{runloop.KindThread, runloop.KindInternal} {
		t.Run(kind, func(t *testing.T) {
			f := start(t, kind)
			f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "name = input('who? ')\nprint('hi ' + name)"})

			prompt := decodeAs[protocol.Prompt](t, f.await(protocol.ConsolePromptStdIn, 1))
			assert.Equal(t, "who? ", prompt.Text)

			f.send(protocol.VerbPush, protocol.Push{Line: "bob"})
			done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
			assert.Equal(t, protocol.OutcomeOK, done.Outcome)
			assert.Equal(t, "hi bob\n", f.rec.Stdout())

			ack := decodeAs[protocol.LineProcessed](t, f.rec.Named(protocol.TopicLineProcessed)[1])
			assert.True(t, ack.Stdin)
		})
	}
}

func TestEngine_StopWhileReadingStdin(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "input()"})
	f.await(protocol.ConsolePromptStdIn, 1)

	f.request(protocol.VerbStop, nil)
	f.await(protocol.TopicStateStopped, 1)
}

func TestEngine_Tasks(t *testing.T) {
	f := start(t, runloop.KindThread)

	reply := f.request(protocol.VerbRegisterTask, protocol.RegisterTask{
		Source: "def add(g, l, a, b):\n    return a + b\n",
	})
	tasks := decodeAs[protocol.Tasks](t, reply)
	assert.Contains(t, tasks.Names, "add")

	res := decodeAs[protocol.Result](t, f.request(protocol.VerbRunTask, protocol.RunTask{
		Name: "add",
		Args: protocol.List{protocol.Int(1), protocol.Int(2)},
	}))
	assert.Equal(t, "3", res.Repr)
	assert.JSONEq(t, "3", string(res.Value))

	dup := f.request(protocol.VerbRegisterTask, protocol.RegisterTask{Source: "def add(g, l):\n    return 0\n"})
	assert.ErrorContains(t, dup.Err(), string(ErrCodeTask))

	missing := f.request(protocol.VerbRunTask, protocol.RunTask{Name: "nope"})
	assert.ErrorContains(t, missing.Err(), string(ErrCodeTask))

	got := decodeAs[protocol.Tasks](t, f.request(protocol.VerbGetTasks, nil))
	assert.Contains(t, got.Names, "add")
	assert.Zero(t, f.rec.Count(protocol.TopicStateBusy), "tasks run quietly")
}

func TestEngine_TaskSeesNamespace(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.push("answer = 42")
	f.await(protocol.TopicStateDone, 1)

	res := decodeAs[protocol.Result](t, f.request(protocol.VerbRunTask, protocol.RunTask{
		Name: "typeof",
		Args: protocol.List{protocol.String("answer")},
	}))
	assert.Equal(t, "'int'", res.Repr)
}

func TestEngine_AddBuiltin(t *testing.T) {
	f := start(t, runloop.KindThread)
	require.NoError(t, f.request(protocol.VerbAddBuiltin, protocol.AddBuiltin{
		Source: "def double(x):\n    return x * 2\n",
	}).Err())

	f.push("print(double(21))")
	f.await(protocol.TopicStateDone, 1)
	assert.Equal(t, "42\n", f.rec.Stdout())
}

func TestEngine_FutureFlag(t *testing.T) {
	f := start(t, runloop.KindThread)

	ok := decodeAs[protocol.Success](t, f.request(protocol.VerbFutureFlag, protocol.FutureFlag{Flag: "division", Enabled: false}))
	assert.True(t, ok.OK)
	res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "7 / 2"}))
	assert.Equal(t, "3", res.Repr)

	bad := decodeAs[protocol.Success](t, f.request(protocol.VerbFutureFlag, protocol.FutureFlag{Flag: "nope", Enabled: true}))
	assert.False(t, bad.OK)
}

func TestEngine_BreakPoint(t *testing.T) {
	f := start(t, runloop.KindThread)

	st := decodeAs[protocol.State](t, f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true}))
	assert.True(t, st.Debugging)
	f.await(protocol.TopicDebugToggled, 1)

	bps := decodeAs[protocol.BreakPoints](t, f.request(protocol.VerbDebugSetBP, protocol.SetBP{Line: 2}))
	require.Len(t, bps.BreakPoints, 1)
	assert.Equal(t, "<console>", bps.BreakPoints[0].File)

	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "a = 1\nb = 2\nc = 3\n"})
	paused := decodeAs[protocol.Paused](t, f.await(protocol.TopicDebugPaused, 1))
	assert.Equal(t, 2, paused.Line)
	assert.Equal(t, "<console>", paused.File)
	assert.False(t, paused.CanStepOut)
	assert.True(t, decodeAs[protocol.State](t, f.request(protocol.VerbGetState, nil)).Paused)

	res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "a"}))
	assert.Equal(t, "1", res.Repr)

	f.push("print(a + 10)")
	require.Eventually(t, func() bool { return f.rec.Stdout() == "11\n" }, wait, time.Millisecond)

	require.NoError(t, f.request(protocol.VerbDebugResume, nil).Err())
	resumed := decodeAs[protocol.Resumed](t, f.await(protocol.TopicDebugResumed, 1))
	assert.Equal(t, "continue", resumed.Mode)

	done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
	assert.Equal(t, protocol.OutcomeOK, done.Outcome)

	listed := decodeAs[protocol.BreakPoints](t, f.request(protocol.VerbDebugListBP, protocol.BPQuery{}))
	require.Len(t, listed.BreakPoints, 1)
	assert.Equal(t, 1, listed.BreakPoints[0].Hits)
}

func TestEngine_BreakPointIgnoreCount(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})
	f.request(protocol.VerbDebugSetBP, protocol.SetBP{Line: 2, Ignore: 2})

	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "for i in [0, 1, 2, 3]:\n    x = i\n"})
	f.await(protocol.TopicDebugPaused, 1)

	res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "i"}))
	assert.Equal(t, "2", res.Repr)

	f.request(protocol.VerbDebugResume, nil)
	f.await(protocol.TopicDebugPaused, 2)
	res = decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "i"}))
	assert.Equal(t, "3", res.Repr)

	f.request(protocol.VerbDebugResume, nil)
	f.await(protocol.TopicStateDone, 1)
}

func TestEngine_BreakPointCondition(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})
	f.request(protocol.VerbDebugSetBP, protocol.SetBP{Line: 2, Condition: "i == 3"})

	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "for i in [1, 2, 3, 4]:\n    x = i\n"})
	f.await(protocol.TopicDebugPaused, 1)
	res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "i"}))
	assert.Equal(t, "3", res.Repr)

	f.request(protocol.VerbDebugEnd, nil)
	done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
	assert.Equal(t, protocol.OutcomeAborted, done.Outcome)
}

func TestEngine_StepAndScopes(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})
	f.push("def inc(n):", "    return n + 1", "")
	f.await(protocol.TopicStateDone, 1)

	f.request(protocol.VerbDebugSetBP, protocol.SetBP{Line: 2})
	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "v = 1\nw = inc(v)\n"})
	f.await(protocol.TopicDebugPaused, 1)

	require.NoError(t, f.request(protocol.VerbDebugStepIn, nil).Err())
	inner := decodeAs[protocol.Paused](t, f.await(protocol.TopicDebugPaused, 2))
	assert.Equal(t, "inc", inner.Function)
	assert.True(t, inner.CanStepOut)
	require.Len(t, inner.Scopes, 2)

	require.NoError(t, f.request(protocol.VerbDebugSetScope, protocol.SetScope{Level: 1}).Err())
	changed := decodeAs[protocol.ScopeChanged](t, f.await(protocol.TopicDebugScopeChanged, 1))
	assert.Equal(t, 1, changed.Active)
	assert.Equal(t, "<module>", changed.Scope.Name)

	bad := decodeAs[protocol.Success](t, f.request(protocol.VerbDebugSetScope, protocol.SetScope{Level: 5}))
	assert.False(t, bad.OK)

	f.request(protocol.VerbDebugResume, nil)
	f.await(protocol.TopicStateDone, 2)
	res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "w"}))
	assert.Equal(t, "2", res.Repr)
}

func TestEngine_DebugPause(t *testing.T) {
	for _, kind := range runloop.Kinds() {
		t.Run(kind, func(t *testing.T) {
			f := start(t, kind)
			f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})
			f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "while True:\n    pass\n"})
			f.await(protocol.TopicStateBusy, 1)

			ok := decodeAs[protocol.Success](t, f.request(protocol.VerbDebugPause, nil))
			assert.True(t, ok.OK)
			paused := decodeAs[protocol.Paused](t, f.await(protocol.TopicDebugPaused, 1))
			assert.Equal(t, "<console>", paused.File)

			f.request(protocol.VerbStop, nil)
			f.await(protocol.TopicStateStopped, 1)
			assert.Zero(t, f.rec.Count(protocol.TopicStateDone))
		})
	}
}

func TestEngine_DebugPauseWhenIdle(t *testing.T) {
	f := start(t, runloop.KindInternal)
	f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})
	reply := decodeAs[protocol.Success](t, f.request(protocol.VerbDebugPause, nil))
	assert.False(t, reply.OK)
}

func TestEngine_RequestsWhilePaused(t *testing.T) {
	for _, kind := range runloop.Kinds() {
		t.Run(kind, func(t *testing.T) {
			f := start(t, kind)
			f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})
			f.request(protocol.VerbDebugSetBP, protocol.SetBP{Line: 2})
			f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "a = 1\nb = 2\n"})
			f.await(protocol.TopicDebugPaused, 1)

			st := decodeAs[protocol.State](t, f.request(protocol.VerbGetState, nil))
			assert.True(t, st.Busy)
			assert.True(t, st.Paused)

			ran := decodeAs[protocol.Success](t, f.request(protocol.VerbExecCommand, protocol.ExecCommand{Source: "c = a + 1\n"}))
			assert.True(t, ran.OK)
			bad := decodeAs[protocol.Success](t, f.request(protocol.VerbExecCommand, protocol.ExecCommand{Source: "x = = 1"}))
			assert.False(t, bad.OK)

			tasks := decodeAs[protocol.Tasks](t, f.request(protocol.VerbRegisterTask, protocol.RegisterTask{
				Source: "def add(g, l, a, b):\n    return a + b\n",
			}))
			assert.Contains(t, tasks.Names, "add")
			sum := decodeAs[protocol.Result](t, f.request(protocol.VerbRunTask, protocol.RunTask{
				Name: "add",
				Args: protocol.List{protocol.Int(2), protocol.Int(3)},
			}))
			assert.Equal(t, "5", sum.Repr)
			typ := decodeAs[protocol.Result](t, f.request(protocol.VerbRunTask, protocol.RunTask{
				Name: "typeof",
				Args: protocol.List{protocol.String("c")},
			}))
			assert.Equal(t, "'int'", typ.Repr, "the exec ran in the paused frame")

			st = decodeAs[protocol.State](t, f.request(protocol.VerbGetState, nil))
			assert.True(t, st.Busy)
			assert.True(t, st.Paused)

			require.NoError(t, f.request(protocol.VerbDebugResume, nil).Err())
			done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
			assert.Equal(t, protocol.OutcomeOK, done.Outcome)

			res := decodeAs[protocol.Result](t, f.request(protocol.VerbEvalCommand, protocol.EvalCommand{Expr: "c"}))
			assert.Equal(t, "2", res.Repr)
			busy := decodeAs[protocol.Busy](t, f.await(protocol.TopicStateBusy, 1))
			assert.Equal(t, busy.Unit, done.Unit)
			assert.Equal(t, 1, f.rec.Count(protocol.TopicStateBusy))
			assert.Equal(t, 1, f.rec.Count(protocol.TopicStateDone), "one Done per unit")
		})
	}
}

func TestEngine_StartUnitRefusedWhileBusy(t *testing.T) {
	l := bus.NewLocal()
	defer l.Close()
	e := New(l, runloop.NewInternal(runloop.Options{}), WithLogger(quietLogger()))
	res := e.comp.Compile("x = 1\n")
	require.NotNil(t, res.Unit)

	e.work = workQuiet
	assert.False(t, e.startUnit(res.Unit, "x = 1"))
	assert.Zero(t, e.units)
	assert.False(t, e.State().Busy)
}

func TestEngine_ToggleRefused(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.request(protocol.VerbDebugToggle, protocol.Toggle{Enabled: true})

	st := decodeAs[protocol.State](t, f.request(protocol.VerbProfileToggle, protocol.Toggle{Enabled: true}))
	assert.True(t, st.Debugging)
	assert.False(t, st.Profiling, "profiling and debugging are exclusive")
	f.await(protocol.TopicStateChange, 1)
	assert.Zero(t, f.rec.Count(protocol.TopicProfileToggled))
}

type fakeJournal struct {
	mu       sync.Mutex
	messages []protocol.Message
	runs     map[string][]protocol.ProfileEntry
}

func (j *fakeJournal) Append(_ context.Context, _ string, m protocol.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = append(j.messages, m)
	return nil
}

func (j *fakeJournal) AppendProfile(_ context.Context, _, runID string, entries []protocol.ProfileEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runs == nil {
		j.runs = make(map[string][]protocol.ProfileEntry)
	}
	j.runs[runID] = entries
	return nil
}

func TestEngine_Profile(t *testing.T) {
	j := &fakeJournal{}
	f := start(t, runloop.KindThread, WithJournal(j))

	st := decodeAs[protocol.State](t, f.request(protocol.VerbProfileToggle, protocol.Toggle{Enabled: true}))
	assert.True(t, st.Profiling)

	f.push("def sq(n):", "    return n * n", "")
	f.push("total = sq(2) + sq(3)")
	f.await(protocol.TopicStateDone, 2)

	stats := decodeAs[protocol.ProfileStats](t, f.request(protocol.VerbProfileStats, nil))
	require.NotEmpty(t, stats.Entries)
	assert.Equal(t, int64(2), stats.Entries[0].Calls)
	assert.Contains(t, stats.Entries[0].Name, "(sq)")

	f.request(protocol.VerbProfileToggle, protocol.Toggle{Enabled: false})
	j.mu.Lock()
	defer j.mu.Unlock()
	require.Contains(t, j.runs, stats.RunID)
	assert.Len(t, j.runs[stats.RunID], len(stats.Entries))
	assert.NotEmpty(t, j.messages)
}

func TestEngine_SystemExit(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.push("exit(3)")

	done := decodeAs[protocol.Done](t, f.await(protocol.TopicStateDone, 1))
	assert.Equal(t, protocol.OutcomeExit, done.Outcome)
	exiting := decodeAs[protocol.Exiting](t, f.await(protocol.TopicEngineExiting, 1))
	assert.Equal(t, 3, exiting.Code)

	err := f.wait()
	assert.True(t, IsExit(err))
	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestEngine_Shutdown(t *testing.T) {
	f := start(t, runloop.KindThread)
	require.NoError(t, f.request(protocol.VerbShutdown, nil).Err())
	f.await(protocol.TopicEngineExiting, 1)

	err := f.wait()
	assert.ErrorIs(t, err, ErrExit)
	code, _ := ExitCode(err)
	assert.Equal(t, 0, code)
}

func TestEngine_ShutdownWhileBusy(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "while True:\n    pass\n"})
	f.await(protocol.TopicStateBusy, 1)

	f.send(protocol.VerbShutdown, nil)
	f.await(protocol.TopicEngineExiting, 1)
	assert.True(t, IsExit(f.wait()))
	assert.Zero(t, f.rec.Count(protocol.TopicStateStopped), "Stopped is suppressed while exiting")
}

func TestEngine_Disconnect(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.send(protocol.VerbExecCommand, protocol.ExecCommand{Source: "while True:\n    pass\n"})
	f.await(protocol.TopicStateBusy, 1)

	require.NoError(t, f.bus.Close())
	assert.True(t, errors.Is(f.wait(), ErrDisconnected))
}

func TestEngine_ContextCancel(t *testing.T) {
	f := start(t, runloop.KindInternal)
	f.cancel()
	assert.ErrorIs(t, f.wait(), context.Canceled)
}

func TestEngine_SeqIsMonotonic(t *testing.T) {
	f := start(t, runloop.KindThread)
	f.push("x = 1", "print(x)")
	f.await(protocol.TopicStateDone, 2)
	f.await(protocol.ConsolePrompt, 2)

	var last uint64
	for _, m := range f.rec.Messages() {
		assert.Greater(t, m.Seq, last)
		last = m.Seq
	}
}

func TestEngine_ConfigureBeforeRun(t *testing.T) {
	l := bus.NewLocal()
	defer l.Close()
	e := New(l, runloop.NewInternal(runloop.Options{}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	require.NoError(t, e.SetFlag("division", true))
	assert.ErrorIs(t, e.SetFlag("walrus", true), compiler.ErrUnknownFlag)
	assert.True(t, e.info().Flags["division"])

	name, err := e.RegisterScript("def twice(g, l, x):\n    return x * 2\n")
	require.NoError(t, err)
	assert.Equal(t, "twice", name)
	assert.True(t, e.Tasks().Has("twice"))

	_, err = e.RegisterScript("def twice(g, l):\n    return 0\n")
	assert.ErrorIs(t, err, task.ErrTaskExists)
}
