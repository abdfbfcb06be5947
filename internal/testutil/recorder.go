package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rengine/internal/bus"
	"github.com/roach88/rengine/internal/protocol"
)

// Recorder plays the controller side of a transport for tests: it serves
// the controller endpoint and subscribes to every topic, keeping what it
// receives.
//
// Events and console messages reach the recorder on different transport
// goroutines, so arrival order is not emission order. Messages therefore
// returns everything sorted by the engine's sequence number.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder struct {
	t        bus.Transport
	endpoint string

	mu      sync.Mutex
	msgs    []protocol.Message
	marks   map[string]bool
	changed chan struct{}
	stop    []func()
}

// syncName names the marker messages Sync sends through the transport.
const syncName = "Recorder.Sync"

// NewRecorder starts recording on t. endpoint is the controller address
// console traffic is sent to.
func NewRecorder(t bus.Transport, endpoint string) (*Recorder, error) {
	r := &Recorder{t: t, endpoint: endpoint, marks: map[string]bool{}, changed: make(chan struct{})}
	stop, err := t.Serve(endpoint, r.add)
	if err != nil {
		return nil, fmt.Errorf("serve %s: %w", endpoint, err)
	}
	r.stop = append(r.stop, stop, t.Subscribe(bus.AllTopics, r.add))
	return r, nil
}

// Close stops recording. Recorded messages stay available.
func (r *Recorder) Close() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	for _, fn := range stop {
		fn()
	}
}

func (r *Recorder) add(m protocol.Message) {
	r.mu.Lock()
	if m.Name == syncName {
		r.marks[m.ID] = true
	} else {
		r.msgs = append(r.msgs, m)
	}
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// Messages returns every recorded message in sequence order.
func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	out := append([]protocol.Message(nil), r.msgs...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Named returns the recorded messages called name, in sequence order.
func (r *Recorder) Named(name string) []protocol.Message {
	var out []protocol.Message
	for _, m := range r.Messages() {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Names returns the names of the recorded messages in sequence order,
// keeping only those for which keep returns true. A nil keep keeps all.
func (r *Recorder) Names(keep func(protocol.Message) bool) []string {
	var out []string
	for _, m := range r.Messages() {
		if keep == nil || keep(m) {
			out = append(out, m.Name)
		}
	}
	return out
}

// Events keeps only published events.
func Events(m protocol.Message) bool { return m.Kind == protocol.KindEvent }

// Count returns how many messages called name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Name == name {
			n++
		}
	}
	return n
}

// Output concatenates the text of the recorded Write messages called name.
func (r *Recorder) Output(name string) string {
	var b strings.Builder
	for _, m := range r.Named(name) {
		w, err := protocol.DecodeAs[protocol.Write](m)
		if err == nil {
			b.WriteString(w.Text)
		}
	}
	return b.String()
}

// Stdout is the recorded standard output.
func (r *Recorder) Stdout() string { return r.Output(protocol.ConsoleWriteStdOut) }

// Stderr is the recorded standard error.
func (r *Recorder) Stderr() string { return r.Output(protocol.ConsoleWriteStdErr) }

// WaitFor blocks until at least n messages called name have been recorded
// and returns the nth. It fails after timeout.
func (r *Recorder) WaitFor(name string, n int, timeout time.Duration) (protocol.Message, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		seen := 0
		for _, m := range r.msgs {
			if m.Name == name {
				seen++
				if seen == n {
					r.mu.Unlock()
					return m, nil
				}
			}
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return protocol.Message{}, fmt.Errorf("timed out after %s waiting for %s #%d (saw %d)", timeout, name, n, seen)
		}
	}
}

// Sync waits until every message sent to the recorder before the call has
// been recorded. It pushes a marker through the controller endpoint and
// another through a topic; each transport delivers in order, so once both
// markers arrive nothing sent earlier is still in flight.
func (r *Recorder) Sync(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id := protocol.NewID()
	console := protocol.Message{ID: id + "/console", Kind: protocol.KindConsole, Name: syncName}
	event := protocol.Message{ID: id + "/event", Kind: protocol.KindEvent, Name: syncName}
	if err := r.t.Send(ctx, r.endpoint, console); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := r.t.Publish(ctx, syncName, event); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	for {
		r.mu.Lock()
		done := r.marks[console.ID] && r.marks[event.ID]
		changed := r.changed
		r.mu.Unlock()
		if done {
			r.mu.Lock()
			delete(r.marks, console.ID)
			delete(r.marks, event.ID)
			r.mu.Unlock()
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("sync: timed out after %s", timeout)
		}
	}
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
