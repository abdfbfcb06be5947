// Package runloop adapts an engine's execution slot to the control flow of
// the host it is embedded in.
//
// An Adapter is handed a Job, the engine's execution entry point closed over
// one compiled unit, and arranges for the host to run it: a worker
// goroutine, an idle callback, a signal slot, a native event handler, or a
// direct call. Adapters never see the namespace. They only guarantee that at
// most one job is in flight and that the job runs on the host's own
// goroutine.
//
// Wait is the one blocking primitive executing code may use (line input and
// debugger pauses). Loop-backed variants block the host goroutine on the
// ready channel. The internal variant shares its goroutine with everything
// else, so it polls instead and yields to the host between polls.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Host kinds accepted by New.
const (
	KindThread   = "thread"
	KindIdle     = "idle"
	KindSignal   = "signal"
	KindEvent    = "event"
	KindInternal = "internal"
)

// DefaultPollInterval is the cooperative wait period of the internal variant.
const DefaultPollInterval = 10 * time.Millisecond

var (
	// ErrBusy is returned by Schedule while a job is still in flight.
	ErrBusy = errors.New("runloop: a job is already in flight")

	// ErrClosed is returned by Schedule after Close.
	ErrClosed = errors.New("runloop: adapter closed")

	// ErrReentrantWait is returned when the internal variant is asked to
	// wait from inside one of its own waits.
	ErrReentrantWait = errors.New("runloop: re-entrant wait")

	// ErrUnknownKind is returned by New for an unrecognised host kind.
	ErrUnknownKind = errors.New("runloop: unknown host kind")
)

// Job is one execution of the engine's entry point.
type Job func()

// Executor is the engine side of an adapter. Execute runs a job inside the
// engine's execution bracket and must call job exactly once. Pump handles
// control traffic that arrived while a cooperative wait is in progress;
// only the internal variant calls it.
type Executor interface {
	Execute(job Job)
	Pump()
}

// Adapter is the scheduling capability every host family implements.
type Adapter interface {
	// Kind names the host family.
	Kind() string

	// Bind installs the engine's executor. Jobs scheduled before Bind run
	// bare.
	Bind(exec Executor)

	// Schedule arranges for job to run on the host. It never drops a job:
	// it either hands it to the host or returns ErrBusy or ErrClosed.
	Schedule(job Job) error

	// Wait blocks executing code until ready is closed or ctx ends.
	Wait(ctx context.Context, ready <-chan struct{}) error

	// Close stops accepting jobs and releases the host loop if the adapter
	// owns it.
	Close() error
}

// Options configures the adapters built by New.
type Options struct {
	// PollInterval is the internal variant's sleep between polls.
	PollInterval time.Duration

	// Yield is the host callback the internal variant invokes on each poll.
	Yield func()
}

// New builds an adapter for the named host kind. Loop-backed variants get a
// host loop of their own, started on a new goroutine and stopped by Close.
func New(kind string, opts Options) (Adapter, error) {
	switch kind {
	case KindThread:
		return NewThread(), nil
	case KindIdle:
		return startOwned(NewIdle(nil)), nil
	case KindSignal:
		return startOwned(NewSignal(nil)), nil
	case KindEvent:
		return startOwned(NewEvent(nil)), nil
	case KindInternal:
		return NewInternal(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Kinds lists the host kinds New accepts.
func Kinds() []string {
	return []string{KindThread, KindIdle, KindSignal, KindEvent, KindInternal}
}

type bareExecutor struct{}

func (bareExecutor) Execute(job Job) { job() }
func (bareExecutor) Pump()           {}

// slot is the in-flight gate shared by every variant.
type slot struct {
	mu     sync.Mutex
	exec   Executor
	busy   bool
	closed bool
}

func (s *slot) Bind(exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = exec
}

func (s *slot) executor() Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec == nil {
		return bareExecutor{}
	}
	return s.exec
}

func (s *slot) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *slot) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// markClosed reports whether this call closed the slot.
func (s *slot) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// run executes job through the bound executor. The slot is freed as soon
// as job itself returns, before the executor's own bracket completes, so an
// executor that reports completion from Execute can be scheduled again
// immediately.
func (s *slot) run(job Job) {
	s.executor().Execute(func() {
		defer s.release()
		job()
	})
}

// waitReady is the blocking wait used by the loop-backed variants.
func waitReady(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
