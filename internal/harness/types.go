package harness

import (
	"encoding/json"

	"github.com/roach88/rengine/internal/protocol"
)

// TraceEvent is one engine message in the trace.
type TraceEvent struct {
	Seq     uint64          `json:"seq"`
	Kind    protocol.Kind   `json:"kind"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Trace holds the engine's events and console messages in sequence
	// order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the engine state after the last step.
	State protocol.State `json:"state"`

	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// Journal counts journaled messages by name.
	Journal map[string]int `json:"journal,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Journal: map[string]int{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Names returns the names of the trace events in order.
func (r *Result) Names() []string {
	names := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		names[i] = ev.Name
	}
	return names
}
