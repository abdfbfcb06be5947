package runloop

import (
	"context"
	"sync/atomic"
	"time"
)

// Internal runs jobs synchronously on the caller's goroutine. It is the
// variant for an engine that shares its only goroutine with its host, so
// Wait never parks that goroutine outright: it polls, pumping the engine
// and yielding to the host between polls.
type Internal struct {
	slot

	interval time.Duration
	yield    func()
	waiting  atomic.Bool
}

// NewInternal returns the synchronous adapter.
func NewInternal(opts Options) *Internal {
	a := &Internal{interval: opts.PollInterval, yield: opts.Yield}
	if a.interval <= 0 {
		a.interval = DefaultPollInterval
	}
	return a
}

// Kind implements Adapter.
func (a *Internal) Kind() string { return KindInternal }

// Schedule runs job before returning.
func (a *Internal) Schedule(job Job) error {
	if err := a.acquire(); err != nil {
		return err
	}
	a.run(job)
	return nil
}

// Wait polls ready until it is closed or ctx ends. Each poll pumps the bound
// executor, calls the host's yield callback, then sleeps for the poll
// interval.
func (a *Internal) Wait(ctx context.Context, ready <-chan struct{}) error {
	if !a.waiting.CompareAndSwap(false, true) {
		return ErrReentrantWait
	}
	defer a.waiting.Store(false)

	timer := time.NewTimer(a.interval)
	defer timer.Stop()
	for {
		select {
		case <-ready:
			return nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		a.executor().Pump()
		if a.yield != nil {
			a.yield()
		}

		timer.Reset(a.interval)
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Waiting reports whether a cooperative wait is in progress.
func (a *Internal) Waiting() bool { return a.waiting.Load() }

// Close implements Adapter.
func (a *Internal) Close() error {
	a.markClosed()
	return nil
}
