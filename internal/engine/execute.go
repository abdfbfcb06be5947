package engine

import (
	"errors"
	"strings"
	"sync"

	"github.com/roach88/rengine/internal/compiler"
	"github.com/roach88/rengine/internal/debug"
	"github.com/roach88/rengine/internal/lang"
	"github.com/roach88/rengine/internal/protocol"
)

// startUnit publishes State.Busy and schedules u. The line acknowledgement
// goes out when the job starts. It reports false, leaving state untouched,
// when another job is already in flight.
func (e *Engine) startUnit(u *compiler.Unit, line string) bool {
	e.mu.Lock()
	if e.work != workIdle {
		e.mu.Unlock()
		return false
	}
	if e.state.Debugging {
		e.ctrl.Reset()
	}
	e.units++
	r := &run{kind: workUnit, unit: e.units, source: u.Source}
	e.current = r
	e.work = workUnit
	e.state.Busy = true
	e.state.Paused = false
	st := e.state
	e.mu.Unlock()

	e.publish(protocol.TopicStateBusy, protocol.Busy{Unit: r.unit, State: st})
	e.logger.Debug("unit scheduled", "unit", r.unit, "lines", strings.Count(u.Source, "\n"))

	err := e.adapter.Schedule(func() {
		e.publish(protocol.TopicLineProcessed, protocol.LineProcessed{Line: line})
		e.execUnit(r, u)
	})
	if err != nil {
		e.logger.Error("unit not scheduled", "unit", r.unit, "error", err)
		e.mu.Lock()
		e.current = nil
		e.work = workIdle
		e.state.Busy = false
		st = e.state
		e.mu.Unlock()
		e.publish(protocol.TopicStateDone, protocol.Done{
			Unit:    r.unit,
			Outcome: protocol.OutcomeAborted,
			Error:   err.Error(),
			State:   st,
		})
		e.sendPrompt()
	}
	return true
}

// execUnit is the execution entry point for a console unit.
func (e *Engine) execUnit(r *run, u *compiler.Unit) {
	code, err := u.Take()
	if err != nil {
		r.err = err
		return
	}
	e.interp.SetTracer(e.tracerFor(r))
	defer e.interp.SetTracer(nil)
	r.err = e.interp.Exec(code, e.ns, lang.WithCallIn(compiler.CallInName, compiler.CallInFilename))
	if e.State().Profiling {
		e.prof.Finish()
	}
}

// schedule runs fn quietly: no Busy or Done events. The outcome is sent as
// the reply to req once the engine is idle again. While a unit is paused in
// the debugger fn runs in the active frame instead.
func (e *Engine) schedule(req protocol.Message, fn func(ns *lang.Namespace) (any, error)) {
	e.mu.Lock()
	paused := e.state.Paused
	idle := e.work == workIdle
	exiting := e.exiting
	e.mu.Unlock()

	switch {
	case exiting:
		e.replyTo(req, newError(ErrCodeProtocol, req.Name, "engine exiting"))
	case paused:
		err := e.ctrl.Run(func(f *lang.Frame) {
			reply, err := fn(f.NS)
			e.flushOutput()
			if err != nil {
				e.replyTo(req, err)
				return
			}
			e.replyTo(req, reply)
		})
		if err != nil {
			e.replyTo(req, err)
		}
	case !idle:
		e.replyTo(req, ErrBusy)
	default:
		r := &run{kind: workQuiet, req: req}
		e.mu.Lock()
		e.current = r
		e.work = workQuiet
		e.mu.Unlock()
		err := e.adapter.Schedule(func() {
			e.interp.SetTracer(e.quietTracer(r))
			defer e.interp.SetTracer(nil)
			r.reply, r.err = fn(e.ns)
		})
		if err != nil {
			e.mu.Lock()
			e.current = nil
			e.work = workIdle
			e.mu.Unlock()
			e.replyTo(req, err)
		}
	}
}

// complete finishes the job that just ran. It runs on the execution
// goroutine after the adapter slot has been released.
func (e *Engine) complete() {
	e.flushOutput()

	e.mu.Lock()
	r := e.current
	e.current = nil
	e.stdin = nil
	e.mu.Unlock()
	if r == nil {
		return
	}

	switch r.kind {
	case workUnit:
		e.finishUnit(r)
		e.post(e.afterIdle)
	case workQuiet:
		e.mu.Lock()
		e.work = workIdle
		e.mu.Unlock()
		// Idle work is queued before the reply goes out.
		e.post(e.afterIdle)
		switch {
		case r.stopped.Load():
			e.replyTo(r.req, newError(ErrCodeCancelled, r.req.Name, "stopped"))
		case r.err != nil:
			e.replyTo(r.req, r.err)
		default:
			e.replyTo(r.req, r.reply)
		}
	}
}

// finishUnit reports how a unit ended. Exactly one of State.Done and
// State.Stopped is published, and the state is idle before either goes out.
func (e *Engine) finishUnit(r *run) {
	e.mu.Lock()
	exiting := e.exiting
	e.mu.Unlock()

	done := protocol.Done{Unit: r.unit, Outcome: protocol.OutcomeOK}
	stopped := false
	var exc *lang.Exception
	switch {
	case r.err == nil:
	case errors.As(r.err, &exc) && exc.Matches(lang.SystemExit):
		done.Outcome = protocol.OutcomeExit
		done.Error = exc.Error()
		e.mu.Lock()
		if !e.exiting {
			e.exiting = true
			e.exitErr = NewExitError(exc.Code, "exit requested")
		}
		e.mu.Unlock()
	case r.stopped.Load() || (exc != nil && exc.Matches(lang.KeyboardInterrupt)):
		stopped = true
		if !exiting {
			e.stderr.WriteString("KeyboardInterrupt\n")
			e.stderr.Flush()
		}
	case errors.Is(r.err, debug.ErrAborted):
		done.Outcome = protocol.OutcomeAborted
	case exc != nil:
		done.Outcome = protocol.OutcomeException
		done.Error = exc.Error()
		e.stderr.WriteString(compiler.FormatTraceback(exc, sourceOf(r.source)))
		e.stderr.Flush()
	default:
		done.Outcome = protocol.OutcomeAborted
		done.Error = r.err.Error()
		e.logger.Warn("unit failed", "unit", r.unit, "error", r.err)
	}

	e.mu.Lock()
	e.work = workIdle
	e.state.Busy = false
	e.state.Paused = false
	st := e.state
	e.mu.Unlock()

	if stopped {
		if !exiting {
			e.publish(protocol.TopicStateStopped, protocol.Stopped{Unit: r.unit, State: st})
		}
		e.logger.Info("unit stopped", "unit", r.unit)
		return
	}
	done.State = st
	e.publish(protocol.TopicStateDone, done)
	e.logger.Debug("unit done", "unit", r.unit, "outcome", done.Outcome)
}

// afterIdle runs on the dispatch goroutine once a job has completed. It
// finishes a pending exit, replays lines pushed while busy, or prompts.
func (e *Engine) afterIdle() {
	e.mu.Lock()
	exiting := e.exiting
	hasExit := e.exitErr != nil
	e.mu.Unlock()
	if exiting {
		if hasExit && !e.inFlight() {
			e.finishExit()
		}
		return
	}

	for !e.inFlight() {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			break
		}
		line := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		e.pushLine(line)
	}
	if !e.inFlight() {
		e.sendPrompt()
	}
}

// flushOutput sends buffered console output.
func (e *Engine) flushOutput() {
	e.stdout.Flush()
	e.stderr.Flush()
}

// sourceOf resolves console line numbers against a unit's source.
func sourceOf(src string) func(filename string, line int) string {
	lines := strings.Split(src, "\n")
	return func(filename string, line int) string {
		if filename != compiler.Filename || line < 1 || line > len(lines) {
			return ""
		}
		return lines[line-1]
	}
}

// unitTracer enforces a Stop at the next statement and forwards to the
// debugger or profiler when one is on.
type unitTracer struct {
	r    *run
	next lang.Tracer
}

func (t unitTracer) Line(f *lang.Frame) error {
	if t.r.stopped.Load() {
		return lang.NewException(lang.KeyboardInterrupt, "")
	}
	if t.next != nil {
		return t.next.Line(f)
	}
	return nil
}

func (t unitTracer) Call(f *lang.Frame) error {
	if t.next != nil {
		return t.next.Call(f)
	}
	return nil
}

func (t unitTracer) Return(f *lang.Frame, v lang.Value) error {
	if t.next != nil {
		return t.next.Return(f, v)
	}
	return nil
}

func (e *Engine) tracerFor(r *run) lang.Tracer {
	st := e.State()
	switch {
	case st.Debugging:
		return unitTracer{r: r, next: e.ctrl}
	case st.Profiling:
		return unitTracer{r: r, next: e.prof}
	default:
		return unitTracer{r: r}
	}
}

func (e *Engine) quietTracer(r *run) lang.Tracer {
	return unitTracer{r: r}
}

// stdinWait is a pending input() call.
type stdinWait struct {
	ready     chan struct{}
	once      sync.Once
	line      string
	cancelled bool
}

func newStdinWait() *stdinWait { return &stdinWait{ready: make(chan struct{})} }

func (w *stdinWait) feed(line string) {
	w.once.Do(func() {
		w.line = line
		close(w.ready)
	})
}

func (w *stdinWait) cancel() {
	w.once.Do(func() {
		w.cancelled = true
		close(w.ready)
	})
}

// readLine is the interpreter's Stdin. The partial output line (the
// input() prompt) becomes the text of Prompt.StdIn.
func (e *Engine) readLine() (string, error) {
	prompt := e.stdout.takePartial()
	e.flushOutput()

	w := newStdinWait()
	e.mu.Lock()
	r := e.current
	if r == nil || r.stopped.Load() {
		e.mu.Unlock()
		return "", lang.NewException(lang.KeyboardInterrupt, "")
	}
	e.stdin = w
	e.mu.Unlock()

	e.sendConsole(protocol.ConsolePromptStdIn, protocol.Prompt{Text: prompt})
	err := e.adapter.Wait(e.ctx(), w.ready)

	e.mu.Lock()
	if e.stdin == w {
		e.stdin = nil
	}
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	if w.cancelled {
		return "", lang.NewException(lang.KeyboardInterrupt, "")
	}
	return w.line, nil
}

// feedStdin hands line to a pending input() call.
func (e *Engine) feedStdin(line string) bool {
	e.mu.Lock()
	w := e.stdin
	e.stdin = nil
	e.mu.Unlock()
	if w == nil {
		return false
	}
	w.feed(line)
	return true
}

// waitReady is the debugger's wait primitive.
func (e *Engine) waitReady(ready <-chan struct{}) error {
	e.flushOutput()
	return e.adapter.Wait(e.ctx(), ready)
}

func (e *Engine) onPaused(p protocol.Paused) {
	e.flushOutput()
	e.mu.Lock()
	e.state.Paused = true
	e.mu.Unlock()
	e.publish(protocol.TopicDebugPaused, p)
	e.sendConsole(protocol.ConsolePromptDebug, protocol.Prompt{Text: PromptDebug})
}

func (e *Engine) onResumed(mode string) {
	e.mu.Lock()
	e.state.Paused = false
	e.mu.Unlock()
	e.publish(protocol.TopicDebugResumed, protocol.Resumed{Mode: mode})
}

func (e *Engine) onScopeChanged(sc protocol.ScopeChanged) {
	e.publish(protocol.TopicDebugScopeChanged, sc)
	e.sendConsole(protocol.ConsolePromptDebug, protocol.Prompt{Text: PromptDebug})
}

// evalInFrame evaluates a breakpoint condition.
func (e *Engine) evalInFrame(f *lang.Frame, expr string) (lang.Value, error) {
	code, err := e.comp.CompileExpr(expr)
	if err != nil {
		return nil, err
	}
	return e.interp.Eval(code, f.NS)
}
