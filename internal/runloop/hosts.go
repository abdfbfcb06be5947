package runloop

import (
	"context"
	"sync"

	"github.com/roach88/rengine/internal/hostloop"
)

// ExecuteEventName is the custom event kind the Event variant registers.
const ExecuteEventName = "rengine.execute"

// hostRunner is a foreign loop an adapter may own.
type hostRunner interface {
	Run(ctx context.Context) error
	Quit()
	Done() <-chan struct{}
}

// owned tracks a host loop the adapter started itself.
type owned struct {
	host hostRunner
	mine bool
}

func (o *owned) start() {
	go func() { _ = o.host.Run(context.Background()) }()
}

// shutdown quits an owned loop and waits for it. It must not be called from
// a job, since the job is running on that loop.
func (o *owned) shutdown() {
	if !o.mine {
		return
	}
	o.host.Quit()
	<-o.host.Done()
}

type ownedAdapter interface {
	Adapter
	ownership() *owned
}

func startOwned(a ownedAdapter) Adapter {
	a.ownership().start()
	return a
}

// Idle runs each job as a one-shot idle callback.
type Idle struct {
	slot
	owned
	loop *hostloop.IdleLoop
}

// NewIdle schedules onto loop. With a nil loop the adapter creates one and
// owns it; the caller runs it (New does so).
func NewIdle(loop *hostloop.IdleLoop) *Idle {
	a := &Idle{loop: loop}
	if loop == nil {
		a.loop = hostloop.NewIdleLoop()
		a.owned.mine = true
	}
	a.owned.host = a.loop
	return a
}

// Loop returns the idle loop jobs are scheduled on.
func (a *Idle) Loop() *hostloop.IdleLoop { return a.loop }

func (a *Idle) ownership() *owned { return &a.owned }

// Kind implements Adapter.
func (a *Idle) Kind() string { return KindIdle }

// Schedule installs a one-shot idle callback running job.
func (a *Idle) Schedule(job Job) error {
	if err := a.acquire(); err != nil {
		return err
	}
	id := a.loop.AddIdle(func() bool {
		a.run(job)
		return false
	})
	if id == 0 {
		a.release()
		return ErrClosed
	}
	return nil
}

// Wait implements Adapter.
func (a *Idle) Wait(ctx context.Context, ready <-chan struct{}) error {
	return waitReady(ctx, ready)
}

// Close implements Adapter.
func (a *Idle) Close() error {
	if a.markClosed() {
		a.shutdown()
	}
	return nil
}

// Signal stores the job and emits a zero-argument signal; the bound slot
// picks the job up on the loop goroutine.
type Signal struct {
	slot
	owned
	loop       *hostloop.Loop
	sig        *hostloop.Signal
	disconnect func()

	mu      sync.Mutex
	pending Job
}

// NewSignal delivers on loop. With a nil loop the adapter creates one and
// owns it.
func NewSignal(loop *hostloop.Loop) *Signal {
	a := &Signal{loop: loop}
	if loop == nil {
		a.loop = hostloop.NewLoop()
		a.owned.mine = true
	}
	a.owned.host = a.loop
	a.sig = hostloop.NewSignal(a.loop)
	a.disconnect = a.sig.Connect(a.execute)
	return a
}

// Loop returns the loop the signal delivers on.
func (a *Signal) Loop() *hostloop.Loop { return a.loop }

func (a *Signal) ownership() *owned { return &a.owned }

// Kind implements Adapter.
func (a *Signal) Kind() string { return KindSignal }

// Schedule stores job and emits the signal.
func (a *Signal) Schedule(job Job) error {
	if err := a.acquire(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pending = job
	a.mu.Unlock()
	if !a.sig.Emit() {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		a.release()
		return ErrClosed
	}
	return nil
}

// execute is the slot bound to the signal.
func (a *Signal) execute() {
	a.mu.Lock()
	job := a.pending
	a.pending = nil
	a.mu.Unlock()
	if job != nil {
		a.run(job)
	}
}

// Wait implements Adapter.
func (a *Signal) Wait(ctx context.Context, ready <-chan struct{}) error {
	return waitReady(ctx, ready)
}

// Close disconnects the slot and stops an owned loop.
func (a *Signal) Close() error {
	if a.markClosed() {
		a.disconnect()
		a.shutdown()
	}
	return nil
}

// Event stores the job and posts a custom native event whose bound handler
// runs it.
type Event struct {
	slot
	owned
	pump *hostloop.EventPump
	kind hostloop.EventKind

	mu      sync.Mutex
	pending Job
}

// NewEvent injects events into pump. With a nil pump the adapter creates one
// and owns it.
func NewEvent(pump *hostloop.EventPump) *Event {
	a := &Event{pump: pump}
	if pump == nil {
		a.pump = hostloop.NewEventPump()
		a.owned.mine = true
	}
	a.owned.host = a.pump
	a.kind = a.pump.RegisterKind(ExecuteEventName)
	a.pump.Bind(a.kind, a.handle)
	return a
}

// Pump returns the event pump events are injected into.
func (a *Event) Pump() *hostloop.EventPump { return a.pump }

// EventKind returns the custom kind allocated for execution events.
func (a *Event) EventKind() hostloop.EventKind { return a.kind }

func (a *Event) ownership() *owned { return &a.owned }

// Kind implements Adapter.
func (a *Event) Kind() string { return KindEvent }

// Schedule stores job and posts the execution event.
func (a *Event) Schedule(job Job) error {
	if err := a.acquire(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pending = job
	a.mu.Unlock()
	if !a.pump.Post(hostloop.Event{Kind: a.kind}) {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		a.release()
		return ErrClosed
	}
	return nil
}

func (a *Event) handle(hostloop.Event) {
	a.mu.Lock()
	job := a.pending
	a.pending = nil
	a.mu.Unlock()
	if job != nil {
		a.run(job)
	}
}

// Wait implements Adapter.
func (a *Event) Wait(ctx context.Context, ready <-chan struct{}) error {
	return waitReady(ctx, ready)
}

// Close unbinds the handler and stops an owned pump.
func (a *Event) Close() error {
	if a.markClosed() {
		a.pump.Unbind(a.kind)
		a.shutdown()
	}
	return nil
}
