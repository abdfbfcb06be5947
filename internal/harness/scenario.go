package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/runloop"
)

// DefaultTimeout bounds each wait step and each request of a scenario.
const DefaultTimeout = 5 * time.Second

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Host is the run-loop variant the engine is built on. Defaults to
	// internal, the deterministic one.
	Host string `yaml:"host,omitempty"`

	// Tasks lists task script files registered before the first step.
	// Paths are relative to the scenario file location.
	Tasks []string `yaml:"tasks,omitempty"`

	// Steps drive the engine, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	// Supported types: event_order, event_count, output_contains, state,
	// journal_count
	Assertions []Assertion `yaml:"assertions"`

	// Timeout overrides DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Step is one action against the engine. Exactly one action field is set.
type Step struct {
	// Push sends one console line. An empty string ends a block.
	Push *string `yaml:"push,omitempty"`

	// Exec sends statement text as if typed.
	Exec *string `yaml:"exec,omitempty"`

	// Eval evaluates an expression quietly.
	Eval *string `yaml:"eval,omitempty"`

	// Task runs a registered task.
	Task *TaskStep `yaml:"task,omitempty"`

	// Register registers a task from script source.
	Register *RegisterStep `yaml:"register,omitempty"`

	// Stop interrupts the running unit.
	Stop bool `yaml:"stop,omitempty"`

	// Debug is one of on, off, pause, resume, step, step_in, step_out, end.
	Debug string `yaml:"debug,omitempty"`

	// Profile is on or off.
	Profile string `yaml:"profile,omitempty"`

	// SetBP sets a breakpoint.
	SetBP *protocol.SetBP `yaml:"setbp,omitempty"`

	// Wait blocks until a message has been seen a number of times.
	Wait *WaitStep `yaml:"wait,omitempty"`

	// Expect is the repr an eval or task result must have.
	Expect *string `yaml:"expect,omitempty"`

	// NoWait sends a push or exec without waiting for its reply. Pushes
	// are always sent this way while the debugger is on.
	NoWait bool `yaml:"nowait,omitempty"`

	// Error, when set, is a substring the step's error reply must contain.
	// Without it an error reply fails the scenario.
	Error string `yaml:"error,omitempty"`
}

// TaskStep runs a task with arguments.
type TaskStep struct {
	Name string `yaml:"name"`
	Args []any  `yaml:"args,omitempty"`
}

// RegisterStep registers a task script.
type RegisterStep struct {
	Name   string `yaml:"name,omitempty"`
	Source string `yaml:"source"`
}

// WaitStep waits until the message Name has been recorded Count times in
// total since the scenario started. Count defaults to 1.
type WaitStep struct {
	For   string `yaml:"for"`
	Count int    `yaml:"count,omitempty"`
}

// Debug step commands.
var debugCommands = map[string]string{
	"pause":    protocol.VerbDebugPause,
	"resume":   protocol.VerbDebugResume,
	"step":     protocol.VerbDebugStep,
	"step_in":  protocol.VerbDebugStepIn,
	"step_out": protocol.VerbDebugStepOut,
	"end":      protocol.VerbDebugEnd,
}

// action returns the name of the step's action field, or "" if none or
// several are set.
func (s Step) action() string {
	var set []string
	add := func(ok bool, name string) {
		if ok {
			set = append(set, name)
		}
	}
	add(s.Push != nil, "push")
	add(s.Exec != nil, "exec")
	add(s.Eval != nil, "eval")
	add(s.Task != nil, "task")
	add(s.Register != nil, "register")
	add(s.Stop, "stop")
	add(s.Debug != "", "debug")
	add(s.Profile != "", "profile")
	add(s.SetBP != nil, "setbp")
	add(s.Wait != nil, "wait")
	if len(set) != 1 {
		return ""
	}
	return set[0]
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_order": Names appear in the trace in this order
	// - "event_count": Name appears exactly Count times
	// - "output_contains": Stream (stdout or stderr) contains Text
	// - "state": the final state matches the set fields
	// - "journal_count": the journal holds Count messages of Kind and Name
	Type string `yaml:"type"`

	Names []string `yaml:"names,omitempty"`

	Name  string `yaml:"name,omitempty"`
	Count int    `yaml:"count,omitempty"`

	Stream string `yaml:"stream,omitempty"`
	Text   string `yaml:"text,omitempty"`

	Busy      *bool `yaml:"busy,omitempty"`
	Debugging *bool `yaml:"debugging,omitempty"`
	Profiling *bool `yaml:"profiling,omitempty"`
	Paused    *bool `yaml:"paused,omitempty"`

	Kind protocol.Kind `yaml:"kind,omitempty"`
}

// Assertion type constants.
const (
	AssertEventOrder     = "event_order"
	AssertEventCount     = "event_count"
	AssertOutputContains = "output_contains"
	AssertState          = "state"
	AssertJournalCount   = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Task paths are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, p := range scenario.Tasks {
		if !filepath.IsAbs(p) {
			scenario.Tasks[i] = filepath.Join(base, p)
		}
	}
	for _, p := range scenario.Tasks {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: task file not found: %s", p)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Host == "" {
		scenario.Host = runloop.KindInternal
	}
	if scenario.Timeout <= 0 {
		scenario.Timeout = DefaultTimeout
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files under dir in lexical order.
// A non-empty filter is a glob matched against file names without their
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !slices.Contains(runloop.Kinds(), s.Host) {
		return fmt.Errorf("unknown host %q: must be one of %v", s.Host, runloop.Kinds())
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	action := s.action()
	switch action {
	case "":
		return fmt.Errorf("steps[%d]: exactly one action is required", index)
	case "task":
		if s.Task.Name == "" {
			return fmt.Errorf("steps[%d]: task name is required", index)
		}
	case "register":
		if s.Register.Source == "" {
			return fmt.Errorf("steps[%d]: register source is required", index)
		}
	case "debug":
		if _, ok := debugCommands[s.Debug]; !ok && s.Debug != "on" && s.Debug != "off" {
			return fmt.Errorf("steps[%d]: unknown debug command %q", index, s.Debug)
		}
	case "profile":
		if s.Profile != "on" && s.Profile != "off" {
			return fmt.Errorf("steps[%d]: profile must be on or off, got %q", index, s.Profile)
		}
	case "setbp":
		if s.SetBP.Line < 1 {
			return fmt.Errorf("steps[%d]: setbp line must be positive", index)
		}
	case "wait":
		if s.Wait.For == "" {
			return fmt.Errorf("steps[%d]: wait requires for", index)
		}
		if s.Wait.Count < 0 {
			return fmt.Errorf("steps[%d]: wait count must be non-negative", index)
		}
	}
	if s.NoWait && action != "push" && action != "exec" {
		return fmt.Errorf("steps[%d]: nowait applies to push and exec steps only", index)
	}
	if s.Expect != nil && action != "eval" && action != "task" {
		return fmt.Errorf("steps[%d]: expect applies to eval and task steps only", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEventOrder:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertOutputContains:
		if a.Stream != "stdout" && a.Stream != "stderr" {
			return fmt.Errorf("assertions[%d]: stream must be stdout or stderr for output_contains", index)
		}
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for output_contains", index)
		}
	case AssertState:
		if a.Busy == nil && a.Debugging == nil && a.Profiling == nil && a.Paused == nil {
			return fmt.Errorf("assertions[%d]: state requires at least one field", index)
		}
	case AssertJournalCount:
		if a.Name == "" || !a.Kind.Valid() {
			return fmt.Errorf("assertions[%d]: kind and name are required for journal_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
