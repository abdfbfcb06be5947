package debug

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/rengine/internal/lang"
	"github.com/roach88/rengine/internal/protocol"
)

var (
	// ErrAborted unwinds a unit ended from the debugger. The engine treats
	// it as a quiet completion.
	ErrAborted = errors.New("debug: execution ended by debugger")

	// ErrNotPaused is returned by commands that need a paused unit.
	ErrNotPaused = errors.New("debug: not paused")

	// ErrBadScope is returned by SetScope for levels outside the stack.
	ErrBadScope = errors.New("debug: no such scope")
)

// Resume modes, as reported in Debug.Resumed.
const (
	ModeContinue = "continue"
	ModeStep     = "step"
	ModeStepIn   = "step_in"
	ModeStepOut  = "step_out"
)

// WaitFunc blocks until ready can be received from. It is supplied by the
// run-loop adapter so that a paused unit waits the way its host allows.
type WaitFunc func(ready <-chan struct{}) error

// EvalFunc evaluates a breakpoint condition in a frame.
type EvalFunc func(f *lang.Frame, expr string) (lang.Value, error)

// Hooks are called on the execution goroutine.
type Hooks struct {
	Paused       func(protocol.Paused)
	Resumed      func(mode string)
	ScopeChanged func(protocol.ScopeChanged)
}

type cmdKind int

const (
	cmdResume cmdKind = iota
	cmdStep
	cmdStepIn
	cmdStepOut
	cmdEnd
	cmdInterrupt
	cmdScope
	cmdRun
)

type command struct {
	kind  cmdKind
	level int
	run   func(f *lang.Frame)
}

// Controller is the debugger. It is installed as the interpreter's tracer
// for the duration of a unit while debugging is on.
//
// Methods other than the Tracer hooks are called from the dispatch
// goroutine; they queue commands that the paused execution goroutine picks
// up from its wait loop.
type Controller struct {
	bps   *Set
	hooks Hooks
	wait  WaitFunc
	eval  EvalFunc

	mu     sync.Mutex
	cmds   []command
	paused bool
	scopes []protocol.Scope
	ready  chan struct{}

	pauseReq atomic.Bool
	endReq   atomic.Bool

	// execution goroutine only
	mode      string
	stepDepth int
	nested    int
}

// Option configures a Controller.
type Option func(*Controller)

// WithHooks sets the event hooks.
func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithEval sets the condition evaluator. Without one, conditions are
// treated as true.
func WithEval(fn EvalFunc) Option {
	return func(c *Controller) { c.eval = fn }
}

// NewController returns a debugger over bps that blocks through wait.
func NewController(bps *Set, wait WaitFunc, opts ...Option) *Controller {
	c := &Controller{
		bps:   bps,
		wait:  wait,
		ready: make(chan struct{}, 1),
		mode:  ModeContinue,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BreakPoints returns the breakpoint set.
func (c *Controller) BreakPoints() *Set { return c.bps }

// Reset prepares for a new unit.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.cmds = nil
	c.paused = false
	c.scopes = nil
	c.mu.Unlock()
	select {
	case <-c.ready:
	default:
	}
	c.pauseReq.Store(false)
	c.endReq.Store(false)
	c.mode = ModeContinue
	c.stepDepth = 0
	c.nested = 0
}

// Paused reports whether the unit is stopped in the debugger.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// RequestPause stops the unit at its next statement.
func (c *Controller) RequestPause() { c.pauseReq.Store(true) }

func (c *Controller) push(cmd command) error {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	c.cmds = append(c.cmds, cmd)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *Controller) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Resume continues to the next breakpoint.
func (c *Controller) Resume() error { return c.push(command{kind: cmdResume}) }

// Step continues to the next statement in the current function or a caller.
func (c *Controller) Step() error { return c.push(command{kind: cmdStep}) }

// StepIn continues to the next statement anywhere.
func (c *Controller) StepIn() error { return c.push(command{kind: cmdStepIn}) }

// StepOut continues until the current function has returned.
func (c *Controller) StepOut() error { return c.push(command{kind: cmdStepOut}) }

// End aborts the unit. When the unit is running rather than paused it is
// aborted at its next statement.
func (c *Controller) End() error {
	if err := c.push(command{kind: cmdEnd}); errors.Is(err, ErrNotPaused) {
		c.endReq.Store(true)
	}
	return nil
}

// Interrupt wakes a paused unit and makes it raise KeyboardInterrupt. It
// does nothing when the unit is not paused.
func (c *Controller) Interrupt() {
	_ = c.push(command{kind: cmdInterrupt})
}

// SetScope selects the frame that Run and conditions use. Level 0 is the
// innermost frame.
func (c *Controller) SetScope(level int) error {
	c.mu.Lock()
	n := len(c.scopes)
	c.mu.Unlock()
	if level < 0 || level >= n {
		return ErrBadScope
	}
	return c.push(command{kind: cmdScope, level: level})
}

// Run queues fn to run on the execution goroutine in the active scope's
// frame. The debugger ignores statements executed by fn.
func (c *Controller) Run(fn func(f *lang.Frame)) error {
	return c.push(command{kind: cmdRun, run: fn})
}

// Line implements lang.Tracer.
func (c *Controller) Line(f *lang.Frame) error {
	if c.nested > 0 || f.Hidden() {
		return nil
	}
	if c.endReq.Swap(false) {
		return ErrAborted
	}
	hit := c.bps.Hit(f.Filename, f.Line, c.condition(f))
	stop := hit || c.pauseReq.Swap(false)
	switch c.mode {
	case ModeStepIn:
		stop = true
	case ModeStep:
		stop = stop || f.Depth() <= c.stepDepth
	case ModeStepOut:
		stop = stop || f.Depth() < c.stepDepth
	}
	if !stop {
		return nil
	}
	return c.pause(f)
}

// Call implements lang.Tracer.
func (c *Controller) Call(f *lang.Frame) error { return nil }

// Return implements lang.Tracer.
func (c *Controller) Return(f *lang.Frame, v lang.Value) error { return nil }

func (c *Controller) condition(f *lang.Frame) func(string) (bool, error) {
	if c.eval == nil {
		return nil
	}
	return func(expr string) (bool, error) {
		c.nested++
		defer func() { c.nested-- }()
		v, err := c.eval(f, expr)
		if err != nil {
			return false, err
		}
		return lang.Truth(v), nil
	}
}

func visibleFrames(f *lang.Frame) []*lang.Frame {
	var out []*lang.Frame
	for k := f; k != nil; k = k.Back {
		if !k.Hidden() {
			out = append(out, k)
		}
	}
	return out
}

func (c *Controller) pause(f *lang.Frame) error {
	frames := visibleFrames(f)
	scopes := make([]protocol.Scope, len(frames))
	for i, fr := range frames {
		scopes[i] = protocol.Scope{Name: fr.Name, File: fr.Filename, Line: fr.Line}
	}
	active := 0

	c.mu.Lock()
	c.paused = true
	c.scopes = scopes
	c.mu.Unlock()

	if c.hooks.Paused != nil {
		c.hooks.Paused(protocol.Paused{
			File:       f.Filename,
			Line:       f.Line,
			Function:   f.Name,
			Scopes:     scopes,
			Active:     active,
			CanStepIn:  true,
			CanStepOut: f.IsFunction(),
		})
	}

	for {
		if err := c.wait(c.ready); err != nil {
			c.leave("")
			return err
		}
		for {
			cmd, ok := c.next()
			if !ok {
				break
			}
			switch cmd.kind {
			case cmdResume, cmdStep, cmdStepIn, cmdStepOut:
				c.mode = modeFor(cmd.kind)
				c.stepDepth = f.Depth()
				c.leave(c.mode)
				return nil
			case cmdEnd:
				c.leave("")
				return ErrAborted
			case cmdInterrupt:
				c.leave("")
				return lang.NewException(lang.KeyboardInterrupt, "")
			case cmdScope:
				active = cmd.level
				if c.hooks.ScopeChanged != nil {
					c.hooks.ScopeChanged(protocol.ScopeChanged{Active: active, Scope: scopes[active]})
				}
			case cmdRun:
				c.nested++
				cmd.run(frames[active])
				c.nested--
			}
		}
	}
}

// next pops the oldest queued command.
func (c *Controller) next() (command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cmds) == 0 {
		return command{}, false
	}
	cmd := c.cmds[0]
	c.cmds = c.cmds[1:]
	return cmd, true
}

// leave marks the unit running again. Commands still queued are kept for
// the next pause and the wakeup is re-armed for them.
func (c *Controller) leave(mode string) {
	c.mu.Lock()
	c.paused = false
	c.scopes = nil
	pending := len(c.cmds) > 0
	c.mu.Unlock()
	if pending {
		c.signal()
	}
	if mode != "" && c.hooks.Resumed != nil {
		c.hooks.Resumed(mode)
	}
}

func modeFor(k cmdKind) string {
	switch k {
	case cmdStep:
		return ModeStep
	case cmdStepIn:
		return ModeStepIn
	case cmdStepOut:
		return ModeStepOut
	}
	return ModeContinue
}
