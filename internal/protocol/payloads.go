package protocol

import "encoding/json"

// EngineInfo answers Manage.
type EngineInfo struct {
	ID      string          `json:"id"`
	Label   string          `json:"label"`
	Type    string          `json:"type"`
	Host    string          `json:"host"`
	Version string          `json:"version"`
	Tasks   []string        `json:"tasks"`
	Flags   map[string]bool `json:"flags"`
}

// ManageRequest names the controller taking over an engine.
type ManageRequest struct {
	Controller string `json:"controller"`
}

// Success answers verbs whose only result is whether they took effect.
type Success struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Push carries one console line, without its trailing newline.
type Push struct {
	Line string `json:"line"`
}

// ExecCommand carries statement text to execute as if it had been typed.
type ExecCommand struct {
	Source string `json:"source"`
}

// EvalCommand carries an expression to evaluate quietly.
type EvalCommand struct {
	Expr string `json:"expr"`
}

// Result answers EvalCommand and RunTask.
type Result struct {
	Value json.RawMessage `json:"value"`
	Repr  string          `json:"repr"`
	Type  string          `json:"type"`
}

// RegisterTask carries a script task definition.
type RegisterTask struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// RunTask names a task and its positional arguments.
type RunTask struct {
	Name string `json:"name"`
	Args List   `json:"args,omitempty"`
}

// AddBuiltin carries a function definition to install as a builtin.
type AddBuiltin struct {
	Source string `json:"source"`
}

// FutureFlag switches a compile flag.
type FutureFlag struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}

// State is the engine's (busy, debugging, profiling, paused) tuple. It
// answers GetState, Debug.Toggle and Profile.Toggle and is the payload of
// State.Change, Debug.Toggled and Profile.Toggled.
type State struct {
	Busy      bool `json:"busy"`
	Debugging bool `json:"debugging"`
	Profiling bool `json:"profiling"`
	Paused    bool `json:"paused"`
}

// Outcomes reported in Done.
const (
	OutcomeOK        = "ok"
	OutcomeException = "exception"
	OutcomeExit      = "exit"
	OutcomeAborted   = "aborted"
)

// Busy is published before a unit starts.
type Busy struct {
	Unit  uint64 `json:"unit"`
	State State  `json:"state"`
}

// Done is published when a unit finishes without being stopped.
type Done struct {
	Unit    uint64 `json:"unit"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
	State   State  `json:"state"`
}

// Stopped is published when a unit was cancelled by a Stop request.
type Stopped struct {
	Unit  uint64 `json:"unit"`
	State State  `json:"state"`
}

// LineProcessed acknowledges a pushed line.
type LineProcessed struct {
	Line     string `json:"line"`
	NeedMore bool   `json:"need_more"`
	Queued   bool   `json:"queued,omitempty"`
	Stdin    bool   `json:"stdin,omitempty"`
}

// Tasks answers GetTasks.
type Tasks struct {
	Names []string `json:"names"`
}

// Toggle switches debugging or profiling.
type Toggle struct {
	Enabled bool `json:"enabled"`
}

// SetScope selects a frame while paused. Level 0 is the innermost frame.
type SetScope struct {
	Level int `json:"level"`
}

// Scope is one frame in a paused stack.
type Scope struct {
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// Paused is published when the debugger stops.
type Paused struct {
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Function   string  `json:"function"`
	Scopes     []Scope `json:"scopes"`
	Active     int     `json:"active"`
	CanStepIn  bool    `json:"can_step_in"`
	CanStepOut bool    `json:"can_step_out"`
}

// Resumed is published when a paused unit continues.
type Resumed struct {
	Mode string `json:"mode"`
}

// ScopeChanged is published after SetScope.
type ScopeChanged struct {
	Active int   `json:"active"`
	Scope  Scope `json:"scope"`
}

// BreakPoint mirrors a debugger breakpoint on the wire.
type BreakPoint struct {
	ID        int    `json:"id"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Ignore    int    `json:"ignore"`
	Hits      int    `json:"hits"`
}

// SetBP creates a breakpoint.
type SetBP struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Ignore    int    `json:"ignore,omitempty"`
}

// BPQuery selects breakpoints by equality on any subset of fields.
type BPQuery struct {
	ID        *int    `json:"id,omitempty"`
	File      *string `json:"file,omitempty"`
	Line      *int    `json:"line,omitempty"`
	Condition *string `json:"condition,omitempty"`
}

// EditBP changes the fields that are set.
type EditBP struct {
	ID        int     `json:"id"`
	Condition *string `json:"condition,omitempty"`
	Ignore    *int    `json:"ignore,omitempty"`
}

// BreakPoints answers Debug.SetBP and Debug.ListBP.
type BreakPoints struct {
	BreakPoints []BreakPoint `json:"breakpoints"`
}

// ProfileEntry is the timing of one routine.
type ProfileEntry struct {
	Name    string `json:"name"`
	Calls   int64  `json:"calls"`
	TotalNS int64  `json:"total_ns"`
	MaxNS   int64  `json:"max_ns"`
}

// ProfileStats answers Profile.Stats.
type ProfileStats struct {
	RunID   string         `json:"run_id,omitempty"`
	Entries []ProfileEntry `json:"entries"`
}

// Exiting is published when the engine shuts down.
type Exiting struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Write carries console output.
type Write struct {
	Text string `json:"text"`
}

// Prompt carries the prompt text the console should show.
type Prompt struct {
	Text string `json:"text"`
}

// ExecSource asks the console to show source as if it had been typed.
type ExecSource struct {
	Source string `json:"source"`
}
