package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/compiler"
	"github.com/roach88/rengine/internal/debug"
	"github.com/roach88/rengine/internal/lang"
	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/runloop"
	"github.com/roach88/rengine/internal/task"
)

const (
	// DefaultEndpoint is the address an engine serves.
	DefaultEndpoint = "engine"

	// DefaultController is where console traffic goes until a Manage
	// request names another controller.
	DefaultController = "controller"

	// DefaultPollInterval is how often an engine shutting down repeats its
	// interrupt while waiting for the unit in flight to unwind.
	DefaultPollInterval = 50 * time.Millisecond

	// LanguageType is the engine type tag reported by Manage.
	LanguageType = "rscript"

	// Version is reported by Manage.
	Version = "0.1.0"
)

// Reasons an accepted ExecCommand started no unit.
const (
	ReasonQueued       = "queued"
	ReasonNothingToRun = "nothing to run"
)

// Console prompts.
const (
	PromptPrimary   = ">>> "
	PromptSecondary = "... "
	PromptDebug     = "[debug] >>> "
)

// Journal records protocol traffic and profiling runs. *store.Store
// implements it.
type Journal interface {
	Append(ctx context.Context, engineID string, m protocol.Message) error
	AppendProfile(ctx context.Context, engineID, runID string, entries []protocol.ProfileEntry) error
}

type workKind int

const (
	workIdle workKind = iota
	workUnit
	workQuiet
)

// run is the job in flight.
type run struct {
	kind    workKind
	unit    uint64
	source  string
	req     protocol.Message
	stopped atomic.Bool

	// set on the execution goroutine, read by complete
	err   error
	reply any
}

// Engine is a remote interactive execution engine.
//
// Thread-safety model:
//   - Run must be called from exactly one goroutine.
//   - Requests arrive on transport goroutines and are queued for Run,
//     except Stop, which is acted on immediately.
//   - User code (units, tasks, evaluations) runs only inside jobs handed to
//     the adapter, on whatever goroutine the adapter's host uses.
//   - The namespace and interpreter are touched only by jobs.
type Engine struct {
	id        string
	label     string
	endpoint  string
	transport bus.Transport
	adapter   runloop.Adapter
	journal   Journal
	logger    *slog.Logger
	clock     *Clock
	queue     *inbox
	interval  time.Duration
	runCtx    context.Context

	interp *lang.Interp
	ns     *lang.Namespace
	comp   *compiler.Compiler
	tasks  *task.Registry
	bps    *debug.Set
	ctrl   *debug.Controller
	prof   *debug.Profiler
	stdout *consoleWriter
	stderr *consoleWriter

	// dispatch goroutine only
	buffer strings.Builder

	mu         sync.Mutex
	controller string
	state      protocol.State
	work       workKind
	current    *run
	units      uint64
	pending    []string
	stdin      *stdinWait
	exiting    bool
	finished   bool
	exitErr    error
	profileRun string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLabel sets the human-readable engine label.
func WithLabel(label string) Option {
	return func(e *Engine) { e.label = label }
}

// WithJournal records every message the engine sends or receives.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIdentity fixes the engine ID instead of generating a UUIDv7.
func WithIdentity(id string) Option {
	return func(e *Engine) { e.id = id }
}

// WithPollInterval sets how often a shutdown repeats its interrupt.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithEndpoint sets the address the engine serves.
func WithEndpoint(name string) Option {
	return func(e *Engine) { e.endpoint = name }
}

// WithController sets where console traffic goes before Manage.
func WithController(name string) Option {
	return func(e *Engine) { e.controller = name }
}

// WithClock sets the logical clock, for an engine continuing a journal.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine driven over t whose user code runs through a.
// The adapter is bound to the engine and closed by it on exit.
func New(t bus.Transport, a runloop.Adapter, opts ...Option) *Engine {
	e := &Engine{
		endpoint:   DefaultEndpoint,
		controller: DefaultController,
		transport:  t,
		adapter:    a,
		logger:     slog.Default(),
		clock:      NewClock(),
		queue:      newInbox(),
		interval:   DefaultPollInterval,
		ns:         lang.NewNamespace(),
		comp:       compiler.New(),
		tasks:      task.NewRegistry(),
		bps:        debug.NewSet(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = protocol.NewID()
	}
	if e.label == "" {
		e.label = e.id
	}

	e.stdout = newConsoleWriter(func(text string) { e.sendConsole(protocol.ConsoleWriteStdOut, protocol.Write{Text: text}) })
	e.stderr = newConsoleWriter(func(text string) { e.sendConsole(protocol.ConsoleWriteStdErr, protocol.Write{Text: text}) })

	e.interp = lang.New()
	e.interp.Stdout = e.stdout
	e.interp.Stdin = e.readLine

	e.ctrl = debug.NewController(e.bps, e.waitReady,
		debug.WithHooks(debug.Hooks{
			Paused:       e.onPaused,
			Resumed:      e.onResumed,
			ScopeChanged: e.onScopeChanged,
		}),
		debug.WithEval(e.evalInFrame),
	)
	e.prof = debug.NewProfiler(debug.WithLogger(e.logger))

	if err := task.RegisterBuiltins(e.tasks); err != nil {
		e.logger.Warn("builtin tasks not registered", "error", err)
	}
	a.Bind(e)
	return e
}

// SetFlag switches a compile flag. Call it before Run; FutureFlag does the
// same for a running engine.
func (e *Engine) SetFlag(name string, on bool) error {
	return e.comp.SetFlag(name, on)
}

// RegisterScript registers the task defined by source and returns its
// name. Call it before Run.
func (e *Engine) RegisterScript(source string) (string, error) {
	name, fn, err := task.FromScript(e.interp, source)
	if err != nil {
		return "", err
	}
	if err := e.tasks.Register(name, fn); err != nil {
		return "", err
	}
	return name, nil
}

// ID returns the engine identity.
func (e *Engine) ID() string { return e.id }

// Endpoint returns the address the engine serves.
func (e *Engine) Endpoint() string { return e.endpoint }

// Tasks returns the task registry, for registering Go tasks before Run.
func (e *Engine) Tasks() *task.Registry { return e.tasks }

// Namespace returns the engine namespace. It must only be touched from
// inside a job or while the engine is not running.
func (e *Engine) Namespace() *lang.Namespace { return e.ns }

// State returns a snapshot of the engine state.
func (e *Engine) State() protocol.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ctx is the context of the current Run, for sends made outside a request.
func (e *Engine) ctx() context.Context {
	if e.runCtx == nil {
		return context.Background()
	}
	return e.runCtx
}

// Run serves the engine endpoint and dispatches requests until the engine
// exits. It returns an *Error satisfying IsExit after a controlled exit or
// Shutdown, ErrDisconnected when the transport goes away, and the context
// error when ctx ends. In-flight work is interrupted before Run returns in
// every case.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runCtx = ctx

	stop, err := e.transport.Serve(e.endpoint, e.receive)
	if err != nil {
		return fmt.Errorf("serve %s: %w", e.endpoint, err)
	}
	defer stop()

	e.logger.Info("engine starting", "id", e.id, "label", e.label, "host", e.adapter.Kind())

	for {
		if it, ok := e.queue.TryDequeue(); ok {
			e.process(it)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.abandon("context cancelled")
			return ctx.Err()

		case <-e.transport.Done():
			e.logger.Info("engine stopping: transport disconnected")
			e.abandon("disconnected")
			return ErrDisconnected

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.mu.Lock()
				err := e.exitErr
				e.mu.Unlock()
				e.logger.Info("engine stopped", "error", err)
				return err
			}
		}
	}
}

// process handles one dispatch item.
func (e *Engine) process(it item) {
	if it.fn != nil {
		it.fn()
		return
	}
	e.dispatch(it.msg)
}

// post hands fn to the dispatch goroutine.
func (e *Engine) post(fn func()) {
	if !e.queue.Enqueue(item{fn: fn}) {
		e.logger.Debug("dispatch closed, dropping callback")
	}
}

// receive is the transport handler. It runs on a transport goroutine.
func (e *Engine) receive(m protocol.Message) {
	if m.Kind != protocol.KindRequest {
		e.logger.Debug("ignoring message", "kind", m.Kind, "name", m.Name)
		return
	}
	if m.Name == protocol.VerbStop {
		e.record(m)
		e.stop()
		e.replyTo(m, protocol.Success{OK: true})
		return
	}
	// A running unit only reaches the dispatch queue at wait points, so a
	// pause for it is taken here.
	if m.Name == protocol.VerbDebugPause {
		if st := e.State(); st.Debugging && st.Busy {
			e.record(m)
			e.ctrl.RequestPause()
			e.replyTo(m, protocol.Success{OK: true})
			return
		}
	}
	if !e.queue.Enqueue(item{msg: m}) {
		e.replyTo(m, &Error{Code: ErrCodeProtocol, Verb: m.Name, Message: "engine exiting"})
	}
}

// Execute implements runloop.Executor. The engine finishes a job (state
// transition, events, reply) after the job returns and the adapter slot is
// free again.
func (e *Engine) Execute(job runloop.Job) {
	job()
	e.complete()
}

// Pump implements runloop.Executor. It runs on the execution goroutine of
// the internal adapter while user code waits, so queued requests are still
// answered.
func (e *Engine) Pump() {
	select {
	case <-e.transport.Done():
		e.interruptWork()
	case <-e.ctx().Done():
		e.interruptWork()
	default:
	}
	n := e.queue.Len()
	for i := 0; i < n; i++ {
		it, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.process(it)
	}
}

// stop interrupts the work in flight. It runs on a transport goroutine.
func (e *Engine) stop() {
	if e.interruptWork() {
		e.logger.Info("stop requested")
		return
	}
	e.post(func() {
		e.buffer.Reset()
		e.sendPrompt()
	})
}

// interruptWork cancels the job in flight, reporting whether there was
// one. Every cancellation path is tried: the cooperative flag checked at
// statement boundaries, the interpreter's hard interrupt, the debugger's
// pause loop and a pending line read.
func (e *Engine) interruptWork() bool {
	e.mu.Lock()
	r := e.current
	w := e.stdin
	e.stdin = nil
	e.mu.Unlock()
	if r == nil {
		return false
	}
	r.stopped.Store(true)
	e.interp.Interrupt()
	e.ctrl.Interrupt()
	if w != nil {
		w.cancel()
	}
	return true
}

// beginExit starts a controlled exit. The engine finishes the job in flight
// first; finishExit runs once it is idle.
func (e *Engine) beginExit(code int, reason string) {
	e.mu.Lock()
	if e.exiting {
		e.mu.Unlock()
		return
	}
	e.exiting = true
	e.exitErr = NewExitError(code, reason)
	busy := e.work != workIdle
	e.mu.Unlock()

	e.logger.Info("engine exiting", "code", code, "reason", reason)
	if busy {
		e.interruptWork()
		return
	}
	e.finishExit()
}

// finishExit publishes Engine.Exiting, stops the adapter and closes the
// inbox so Run returns.
func (e *Engine) finishExit() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	code, _ := ExitCode(e.exitErr)
	var reason string
	var ee *Error
	if errors.As(e.exitErr, &ee) {
		reason = ee.Message
	}
	e.mu.Unlock()

	e.publish(protocol.TopicEngineExiting, protocol.Exiting{Code: code, Reason: reason})
	if err := e.adapter.Close(); err != nil {
		e.logger.Warn("adapter close failed", "error", err)
	}
	e.queue.Close()
}

// abandon shuts down after the controller went away or ctx ended. The unit
// in flight is interrupted again on every poll until it unwinds.
func (e *Engine) abandon(reason string) {
	e.mu.Lock()
	e.exiting = true
	if e.exitErr == nil {
		e.exitErr = NewExitError(0, reason)
	}
	e.mu.Unlock()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for e.inFlight() {
		e.interruptWork()
		e.drainCallbacks()
		if !e.inFlight() {
			break
		}
		select {
		case <-ticker.C:
		case <-e.queue.Wait():
		}
	}
	e.drainCallbacks()
	e.finishExit()
}

// drainCallbacks runs queued closures and answers queued requests with an
// exiting error.
func (e *Engine) drainCallbacks() {
	for {
		it, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		if it.fn != nil {
			it.fn()
			continue
		}
		e.replyTo(it.msg, &Error{Code: ErrCodeProtocol, Verb: it.msg.Name, Message: "engine exiting"})
	}
}

func (e *Engine) inFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.work != workIdle
}

// record journals m. Incoming requests take a tick of the engine clock so
// the journal reads in processing order.
func (e *Engine) record(m protocol.Message) {
	if m.Kind == protocol.KindRequest {
		m.Seq = e.clock.Next()
	}
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(e.ctx(), e.id, m); err != nil {
		e.logger.Warn("journal append failed", "name", m.Name, "error", err)
	}
}

func (e *Engine) stamp(m protocol.Message) protocol.Message {
	m.From = e.endpoint
	m.Seq = e.clock.Next()
	return m
}

// publish broadcasts an event.
func (e *Engine) publish(topic string, payload any) {
	m, err := protocol.NewEvent(topic, payload)
	if err != nil {
		e.logger.Error("event encode failed", "topic", topic, "error", err)
		return
	}
	m = e.stamp(m)
	e.record(m)
	if err := e.transport.Publish(e.ctx(), topic, m); err != nil {
		e.logger.Debug("publish failed", "topic", topic, "error", err)
	}
}

// sendConsole sends a console message to the controller.
func (e *Engine) sendConsole(name string, payload any) {
	m, err := protocol.NewConsole(name, payload)
	if err != nil {
		e.logger.Error("console encode failed", "name", name, "error", err)
		return
	}
	m = e.stamp(m)
	e.mu.Lock()
	to := e.controller
	e.mu.Unlock()
	e.record(m)
	if err := e.transport.Send(e.ctx(), to, m); err != nil {
		e.logger.Debug("console send failed", "name", name, "to", to, "error", err)
	}
}

// replyTo answers req. An error payload becomes an error reply.
func (e *Engine) replyTo(req protocol.Message, payload any) {
	var m protocol.Message
	if err, ok := payload.(error); ok {
		m = req.ErrorReply(err)
	} else {
		var encErr error
		m, encErr = req.Reply(payload)
		if encErr != nil {
			m = req.ErrorReply(encErr)
		}
	}
	m = e.stamp(m)
	e.record(m)
	if err := e.transport.Send(e.ctx(), m.To, m); err != nil {
		e.logger.Debug("reply failed", "verb", req.Name, "to", m.To, "error", err)
	}
}

// sendPrompt tells the console what to show next.
func (e *Engine) sendPrompt() {
	e.mu.Lock()
	paused := e.state.Paused
	idle := e.work == workIdle
	exiting := e.exiting
	e.mu.Unlock()
	switch {
	case exiting:
	case paused:
		e.sendConsole(protocol.ConsolePromptDebug, protocol.Prompt{Text: PromptDebug})
	case !idle:
	case e.buffer.Len() > 0:
		e.sendConsole(protocol.ConsolePrompt, protocol.Prompt{Text: PromptSecondary})
	default:
		e.sendConsole(protocol.ConsolePrompt, protocol.Prompt{Text: PromptPrimary})
	}
}

func (e *Engine) info() protocol.EngineInfo {
	flags := e.comp.Flags()
	return protocol.EngineInfo{
		ID:      e.id,
		Label:   e.label,
		Type:    LanguageType,
		Host:    e.adapter.Kind(),
		Version: Version,
		Tasks:   e.tasks.Names(),
		Flags: map[string]bool{
			"division": flags.TrueDivision,
			"display":  flags.Display,
		},
	}
}
