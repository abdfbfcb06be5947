package runloop

import (
	"context"
	"sync"
)

// Thread runs jobs on a dedicated worker goroutine that sleeps on a
// condition variable between jobs.
type Thread struct {
	slot

	cond    *sync.Cond
	pending Job
	stop    bool
	done    chan struct{}
}

// NewThread starts the worker goroutine.
func NewThread() *Thread {
	t := &Thread{done: make(chan struct{})}
	t.cond = sync.NewCond(&sync.Mutex{})
	go t.work()
	return t
}

// Kind implements Adapter.
func (t *Thread) Kind() string { return KindThread }

// Schedule stores job and wakes the worker.
func (t *Thread) Schedule(job Job) error {
	if err := t.acquire(); err != nil {
		return err
	}
	t.cond.L.Lock()
	t.pending = job
	t.cond.L.Unlock()
	t.cond.Signal()
	return nil
}

func (t *Thread) work() {
	defer close(t.done)
	for {
		t.cond.L.Lock()
		for t.pending == nil && !t.stop {
			t.cond.Wait()
		}
		job := t.pending
		t.pending = nil
		t.cond.L.Unlock()

		if job == nil {
			return
		}
		t.run(job)
	}
}

// Wait implements Adapter.
func (t *Thread) Wait(ctx context.Context, ready <-chan struct{}) error {
	return waitReady(ctx, ready)
}

// Close stops the worker once the job in flight, if any, has returned. A job
// scheduled but not yet picked up still runs.
func (t *Thread) Close() error {
	if t.markClosed() {
		t.cond.L.Lock()
		t.stop = true
		t.cond.L.Unlock()
		t.cond.Broadcast()
	}
	<-t.done
	return nil
}
