package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/rengine/internal/compiler"
	"github.com/roach88/rengine/internal/debug"
	"github.com/roach88/rengine/internal/lang"
	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/task"
)

// handler answers one verb on the dispatch goroutine. A nil reply with a
// nil error means the handler replies by itself later.
type handler func(e *Engine, m protocol.Message) (any, error)

var handlers = map[string]handler{
	protocol.VerbManage:       (*Engine).handleManage,
	protocol.VerbRelease:      (*Engine).handleRelease,
	protocol.VerbPush:         (*Engine).handlePush,
	protocol.VerbExecCommand:  (*Engine).handleExec,
	protocol.VerbEvalCommand:  (*Engine).handleEval,
	protocol.VerbRegisterTask: (*Engine).handleRegisterTask,
	protocol.VerbRunTask:      (*Engine).handleRunTask,
	protocol.VerbAddBuiltin:   (*Engine).handleAddBuiltin,
	protocol.VerbFutureFlag:   (*Engine).handleFutureFlag,
	protocol.VerbGetState:     (*Engine).handleGetState,
	protocol.VerbGetTasks:     (*Engine).handleGetTasks,
	protocol.VerbShutdown:     (*Engine).handleShutdown,

	protocol.VerbDebugToggle:   (*Engine).handleDebugToggle,
	protocol.VerbDebugPause:    (*Engine).handleDebugPause,
	protocol.VerbDebugResume:   debugCommand((*debug.Controller).Resume),
	protocol.VerbDebugStep:     debugCommand((*debug.Controller).Step),
	protocol.VerbDebugStepIn:   debugCommand((*debug.Controller).StepIn),
	protocol.VerbDebugStepOut:  debugCommand((*debug.Controller).StepOut),
	protocol.VerbDebugEnd:      debugCommand((*debug.Controller).End),
	protocol.VerbDebugSetScope: (*Engine).handleSetScope,
	protocol.VerbDebugSetBP:    (*Engine).handleSetBP,
	protocol.VerbDebugClearBP:  (*Engine).handleClearBP,
	protocol.VerbDebugEditBP:   (*Engine).handleEditBP,
	protocol.VerbDebugListBP:   (*Engine).handleListBP,

	protocol.VerbProfileToggle: (*Engine).handleProfileToggle,
	protocol.VerbProfileStats:  (*Engine).handleProfileStats,
}

// errDeferred marks a request whose reply is sent once its job completes.
var errDeferred = errors.New("reply deferred")

// dispatch handles one request. Every request gets exactly one reply.
func (e *Engine) dispatch(m protocol.Message) {
	e.record(m)
	h, ok := handlers[m.Name]
	if !ok {
		e.replyTo(m, newError(ErrCodeProtocol, m.Name, "unknown verb"))
		return
	}
	reply, err := h(e, m)
	switch {
	case errors.Is(err, errDeferred):
	case err != nil:
		e.logger.Debug("request failed", "verb", m.Name, "error", err)
		e.replyTo(m, err)
	case reply == nil:
		e.replyTo(m, protocol.Success{OK: true})
	default:
		e.replyTo(m, reply)
	}
}

func decode[T any](m protocol.Message) (T, error) {
	v, err := protocol.DecodeAs[T](m)
	if err != nil {
		return v, newError(ErrCodeProtocol, m.Name, "%v", err)
	}
	return v, nil
}

func (e *Engine) handleManage(m protocol.Message) (any, error) {
	req, err := decode[protocol.ManageRequest](m)
	if err != nil {
		return nil, err
	}
	controller := req.Controller
	if controller == "" {
		controller = m.From
	}
	if controller != "" {
		e.mu.Lock()
		e.controller = controller
		e.mu.Unlock()
	}
	e.logger.Info("managed", "controller", controller)
	return e.info(), nil
}

func (e *Engine) handleRelease(m protocol.Message) (any, error) {
	e.mu.Lock()
	e.controller = DefaultController
	e.mu.Unlock()
	return nil, nil
}

func (e *Engine) handlePush(m protocol.Message) (any, error) {
	req, err := decode[protocol.Push](m)
	if err != nil {
		return nil, err
	}
	return e.pushLine(req.Line), nil
}

// pushLine feeds one console line, reporting how it was taken.
func (e *Engine) pushLine(line string) protocol.LineProcessed {
	line = strings.TrimSuffix(line, "\n")

	if e.feedStdin(line) {
		ack := protocol.LineProcessed{Line: line, Stdin: true}
		e.publish(protocol.TopicLineProcessed, ack)
		return ack
	}

	e.mu.Lock()
	paused := e.state.Paused
	busy := e.work != workIdle
	if busy && !paused {
		e.pending = append(e.pending, line)
	}
	e.mu.Unlock()

	switch {
	case paused:
		e.debugLine(line)
		ack := protocol.LineProcessed{Line: line}
		e.publish(protocol.TopicLineProcessed, ack)
		return ack
	case busy:
		ack := protocol.LineProcessed{Line: line, Queued: true}
		e.publish(protocol.TopicLineProcessed, ack)
		return ack
	}

	e.buffer.WriteString(line)
	e.buffer.WriteByte('\n')
	res := e.comp.Compile(e.buffer.String())
	switch {
	case res.Unit != nil:
		e.buffer.Reset()
		if e.startUnit(res.Unit, line) {
			return protocol.LineProcessed{Line: line}
		}
		e.mu.Lock()
		e.pending = append(e.pending, strings.Split(strings.TrimRight(res.Unit.Source, "\n"), "\n")...)
		e.mu.Unlock()
		ack := protocol.LineProcessed{Line: line, Queued: true}
		e.publish(protocol.TopicLineProcessed, ack)
		return ack
	case res.NeedMore:
		ack := protocol.LineProcessed{Line: line, NeedMore: true}
		e.publish(protocol.TopicLineProcessed, ack)
		e.sendPrompt()
		return ack
	case res.SyntaxError:
		e.buffer.Reset()
		e.stderr.WriteString(compiler.FormatSyntaxError(res.Err, res.LineAdjust))
		e.stderr.Flush()
	default:
		e.buffer.Reset()
	}
	ack := protocol.LineProcessed{Line: line}
	e.publish(protocol.TopicLineProcessed, ack)
	e.sendPrompt()
	return ack
}

// debugLine runs a line typed at the debug prompt in the active frame.
func (e *Engine) debugLine(line string) {
	if strings.TrimSpace(line) == "" {
		e.sendPrompt()
		return
	}
	e.runInFrame(line)
}

// runInFrame compiles source as one unit and runs it in the paused frame.
// A syntax error is written to stderr and its message returned.
func (e *Engine) runInFrame(source string) (ok bool, reason string) {
	res := e.comp.Compile(strings.TrimRight(source, "\n") + "\n\n")
	switch {
	case res.SyntaxError:
		e.stderr.WriteString(compiler.FormatSyntaxError(res.Err, res.LineAdjust))
		e.stderr.Flush()
		e.sendPrompt()
		return false, res.Err.Msg
	case res.Unit == nil:
		e.sendPrompt()
		return true, ReasonNothingToRun
	}
	u := res.Unit
	err := e.ctrl.Run(func(f *lang.Frame) {
		code, err := u.Take()
		if err == nil {
			err = e.interp.Exec(code, f.NS)
		}
		var exc *lang.Exception
		if errors.As(err, &exc) {
			e.stderr.WriteString(compiler.FormatTraceback(exc, sourceOf(u.Source)))
		}
		e.flushOutput()
		e.sendPrompt()
	})
	if err != nil {
		fmt.Fprintf(e.stderr, "debug: %v\n", err)
		e.stderr.Flush()
		return false, err.Error()
	}
	return true, ""
}

func (e *Engine) handleExec(m protocol.Message) (any, error) {
	req, err := decode[protocol.ExecCommand](m)
	if err != nil {
		return nil, err
	}
	e.sendConsole(protocol.ConsoleExecSource, protocol.ExecSource{Source: req.Source})

	e.mu.Lock()
	paused := e.state.Paused
	queue := e.work != workIdle && !paused
	e.mu.Unlock()
	if paused {
		ok, reason := e.runInFrame(req.Source)
		return protocol.Success{OK: ok, Reason: reason}, nil
	}
	lines := strings.Split(strings.TrimRight(req.Source, "\n"), "\n")
	if queue {
		e.mu.Lock()
		e.pending = append(e.pending, lines...)
		e.pending = append(e.pending, "")
		e.mu.Unlock()
		return protocol.Success{OK: true, Reason: ReasonQueued}, nil
	}

	// The whole source is one unit: a blank line closes any open block.
	e.buffer.Reset()
	res := e.comp.Compile(strings.TrimRight(req.Source, "\n") + "\n\n")
	switch {
	case res.Unit != nil:
		if !e.startUnit(res.Unit, lines[len(lines)-1]) {
			return protocol.Success{OK: false, Reason: ErrBusy.Error()}, nil
		}
	case res.SyntaxError:
		e.stderr.WriteString(compiler.FormatSyntaxError(res.Err, res.LineAdjust))
		e.stderr.Flush()
		e.sendPrompt()
		return protocol.Success{OK: false, Reason: res.Err.Msg}, nil
	default:
		e.sendPrompt()
		return protocol.Success{OK: true, Reason: ReasonNothingToRun}, nil
	}
	return protocol.Success{OK: true}, nil
}

func (e *Engine) handleEval(m protocol.Message) (any, error) {
	req, err := decode[protocol.EvalCommand](m)
	if err != nil {
		return nil, err
	}
	code, err := e.comp.CompileExpr(req.Expr)
	if err != nil {
		return nil, newError(ErrCodeSyntax, m.Name, "%v", err)
	}
	e.schedule(m, func(ns *lang.Namespace) (any, error) {
		v, err := e.interp.Eval(code, ns)
		if err != nil {
			return nil, newError(ErrCodeRuntime, m.Name, "%v", err)
		}
		return resultOf(v)
	})
	return nil, errDeferred
}

func (e *Engine) handleRunTask(m protocol.Message) (any, error) {
	req, err := decode[protocol.RunTask](m)
	if err != nil {
		return nil, err
	}
	if !e.tasks.Has(req.Name) {
		return nil, newError(ErrCodeTask, m.Name, "%v", fmt.Errorf("%w: %s", task.ErrUnknownTask, req.Name))
	}
	args := make([]lang.Value, len(req.Args))
	for i, a := range req.Args {
		v, err := fromWire(a)
		if err != nil {
			return nil, newError(ErrCodeProtocol, m.Name, "argument %d: %v", i, err)
		}
		args[i] = v
	}
	e.schedule(m, func(ns *lang.Namespace) (any, error) {
		v, err := e.tasks.Run(ns, req.Name, args)
		if err != nil {
			return nil, newError(ErrCodeTask, m.Name, "%s: %v", req.Name, err)
		}
		return resultOf(v)
	})
	return nil, errDeferred
}

func (e *Engine) handleRegisterTask(m protocol.Message) (any, error) {
	req, err := decode[protocol.RegisterTask](m)
	if err != nil {
		return nil, err
	}
	e.schedule(m, func(*lang.Namespace) (any, error) {
		name, fn, err := task.FromScript(e.interp, req.Source)
		if err != nil {
			return nil, newError(ErrCodeTask, m.Name, "%v", err)
		}
		if req.Name != "" {
			name = req.Name
		}
		if err := e.tasks.Register(name, fn); err != nil {
			return nil, newError(ErrCodeTask, m.Name, "%v", err)
		}
		e.logger.Info("task registered", "name", name)
		return protocol.Tasks{Names: e.tasks.Names()}, nil
	})
	return nil, errDeferred
}

func (e *Engine) handleAddBuiltin(m protocol.Message) (any, error) {
	req, err := decode[protocol.AddBuiltin](m)
	if err != nil {
		return nil, err
	}
	e.schedule(m, func(*lang.Namespace) (any, error) {
		fn, err := task.Define(e.interp, req.Source)
		if err != nil {
			return nil, newError(ErrCodeSyntax, m.Name, "%v", err)
		}
		e.interp.Builtins.Set(fn.Name, fn)
		return protocol.Success{OK: true}, nil
	})
	return nil, errDeferred
}

func (e *Engine) handleFutureFlag(m protocol.Message) (any, error) {
	req, err := decode[protocol.FutureFlag](m)
	if err != nil {
		return nil, err
	}
	if err := e.comp.SetFlag(req.Flag, req.Enabled); err != nil {
		return protocol.Success{OK: false, Reason: err.Error()}, nil
	}
	return protocol.Success{OK: true}, nil
}

func (e *Engine) handleGetState(protocol.Message) (any, error) {
	return e.State(), nil
}

func (e *Engine) handleGetTasks(protocol.Message) (any, error) {
	return protocol.Tasks{Names: e.tasks.Names()}, nil
}

func (e *Engine) handleShutdown(m protocol.Message) (any, error) {
	e.replyTo(m, protocol.Success{OK: true})
	e.beginExit(0, "shutdown")
	return nil, errDeferred
}

// toggle switches debugging or profiling. The request is refused, and the
// unchanged state republished, while a unit runs or when it would turn on
// both at once.
func (e *Engine) toggle(m protocol.Message, topic string, set func(st *protocol.State, on bool) bool) (any, error) {
	req, err := decode[protocol.Toggle](m)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	refused := e.work != workIdle || !set(&e.state, req.Enabled)
	st := e.state
	e.mu.Unlock()
	if refused {
		e.publish(protocol.TopicStateChange, st)
		return st, nil
	}
	e.publish(topic, st)
	return st, nil
}

func (e *Engine) handleDebugToggle(m protocol.Message) (any, error) {
	return e.toggle(m, protocol.TopicDebugToggled, func(st *protocol.State, on bool) bool {
		if on && st.Profiling {
			return false
		}
		st.Debugging = on
		return true
	})
}

func (e *Engine) handleProfileToggle(m protocol.Message) (any, error) {
	var finished []protocol.ProfileEntry
	var runID string
	reply, err := e.toggle(m, protocol.TopicProfileToggled, func(st *protocol.State, on bool) bool {
		if on && st.Debugging {
			return false
		}
		switch {
		case on && !st.Profiling:
			e.prof.Reset()
			e.profileRun = protocol.NewID()
		case !on && st.Profiling:
			finished = profileEntries(e.prof.Stats())
			runID = e.profileRun
		}
		st.Profiling = on
		return true
	})
	if err == nil && runID != "" && e.journal != nil {
		if err := e.journal.AppendProfile(e.ctx(), e.id, runID, finished); err != nil {
			e.logger.Warn("profile not journaled", "run", runID, "error", err)
		}
	}
	return reply, err
}

func (e *Engine) handleProfileStats(protocol.Message) (any, error) {
	e.mu.Lock()
	runID := e.profileRun
	e.mu.Unlock()
	return protocol.ProfileStats{RunID: runID, Entries: profileEntries(e.prof.Stats())}, nil
}

func profileEntries(stats []debug.Stat) []protocol.ProfileEntry {
	out := make([]protocol.ProfileEntry, len(stats))
	for i, s := range stats {
		out[i] = protocol.ProfileEntry{
			Name:    s.Name,
			Calls:   s.Calls,
			TotalNS: s.Total.Nanoseconds(),
			MaxNS:   s.Max.Nanoseconds(),
		}
	}
	return out
}

func (e *Engine) handleDebugPause(m protocol.Message) (any, error) {
	st := e.State()
	if !st.Debugging || !st.Busy {
		return protocol.Success{OK: false, Reason: "not running under the debugger"}, nil
	}
	e.ctrl.RequestPause()
	return nil, nil
}

// debugCommand adapts a controller command that needs a paused unit.
func debugCommand(cmd func(*debug.Controller) error) handler {
	return func(e *Engine, m protocol.Message) (any, error) {
		if !e.State().Debugging {
			return protocol.Success{OK: false, Reason: "debugging is off"}, nil
		}
		if err := cmd(e.ctrl); err != nil {
			return protocol.Success{OK: false, Reason: err.Error()}, nil
		}
		return nil, nil
	}
}

func (e *Engine) handleSetScope(m protocol.Message) (any, error) {
	req, err := decode[protocol.SetScope](m)
	if err != nil {
		return nil, err
	}
	if err := e.ctrl.SetScope(req.Level); err != nil {
		return protocol.Success{OK: false, Reason: err.Error()}, nil
	}
	return nil, nil
}

func wireBreakPoints(bps []debug.BreakPoint) protocol.BreakPoints {
	out := protocol.BreakPoints{BreakPoints: make([]protocol.BreakPoint, len(bps))}
	for i, bp := range bps {
		out.BreakPoints[i] = protocol.BreakPoint{
			ID:        bp.ID,
			File:      bp.File,
			Line:      bp.Line,
			Condition: bp.Condition,
			Ignore:    bp.Ignore,
			Hits:      bp.Hits,
		}
	}
	return out
}

func (e *Engine) handleSetBP(m protocol.Message) (any, error) {
	req, err := decode[protocol.SetBP](m)
	if err != nil {
		return nil, err
	}
	if req.Line < 1 {
		return nil, newError(ErrCodeProtocol, m.Name, "line must be positive, got %d", req.Line)
	}
	file := req.File
	if file == "" {
		file = compiler.Filename
	}
	bp := e.bps.Add(debug.BreakPoint{File: file, Line: req.Line, Condition: req.Condition, Ignore: req.Ignore})
	return wireBreakPoints([]debug.BreakPoint{bp}), nil
}

func (e *Engine) handleClearBP(m protocol.Message) (any, error) {
	req, err := decode[protocol.BPQuery](m)
	if err != nil {
		return nil, err
	}
	n := e.bps.Clear(debug.Query{ID: req.ID, File: req.File, Line: req.Line, Condition: req.Condition})
	return protocol.Success{OK: n > 0, Reason: fmt.Sprintf("cleared %d", n)}, nil
}

func (e *Engine) handleEditBP(m protocol.Message) (any, error) {
	req, err := decode[protocol.EditBP](m)
	if err != nil {
		return nil, err
	}
	bp, err := e.bps.Edit(req.ID, func(bp *debug.BreakPoint) {
		if req.Condition != nil {
			bp.Condition = *req.Condition
		}
		if req.Ignore != nil {
			bp.Ignore = *req.Ignore
		}
	})
	if err != nil {
		return nil, newError(ErrCodeProtocol, m.Name, "%v", err)
	}
	return wireBreakPoints([]debug.BreakPoint{bp}), nil
}

func (e *Engine) handleListBP(m protocol.Message) (any, error) {
	req, err := decode[protocol.BPQuery](m)
	if err != nil {
		return nil, err
	}
	return wireBreakPoints(e.bps.Filter(debug.Query{ID: req.ID, File: req.File, Line: req.Line, Condition: req.Condition})), nil
}
