package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Kind, event.Name)
		}
	}

	return buf.String()
}

// assertEventOrder checks that the names appear in the trace in order.
// They need not be consecutive, and a name may repeat: each occurrence is
// matched after the previous match.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Names) && event.Name == a.Names[next] {
			next++
		}
	}
	if next == len(a.Names) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("names in order: %v", a.Names),
		Actual:   fmt.Sprintf("matched %v, missing %s", a.Names[:next], a.Names[next]),
		Trace:    trace,
	}
}

// assertEventCount checks that the name appears exactly Count times.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Name == a.Name {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Name),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertOutputContains(result *Result, a Assertion) error {
	out := result.Stdout
	if a.Stream == "stderr" {
		out = result.Stderr
	}
	if strings.Contains(out, a.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: fmt.Sprintf("%s containing %q", a.Stream, a.Text),
		Actual:   fmt.Sprintf("%q", out),
	}
}

// assertState checks the fields the assertion sets against the final state.
func assertState(result *Result, a Assertion) error {
	var diffs []string
	check := func(name string, want *bool, got bool) {
		if want != nil && *want != got {
			diffs = append(diffs, fmt.Sprintf("%s=%t", name, got))
		}
	}
	st := result.State
	check("busy", a.Busy, st.Busy)
	check("debugging", a.Debugging, st.Debugging)
	check("profiling", a.Profiling, st.Profiling)
	check("paused", a.Paused, st.Paused)
	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertState,
		Expected: describeState(a),
		Actual:   strings.Join(diffs, ", "),
	}
}

func describeState(a Assertion) string {
	var parts []string
	add := func(name string, v *bool) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%t", name, *v))
		}
	}
	add("busy", a.Busy)
	add("debugging", a.Debugging)
	add("profiling", a.Profiling)
	add("paused", a.Paused)
	return strings.Join(parts, ", ")
}

func assertJournalCount(result *Result, a Assertion) error {
	count := result.Journal[journalKey(a.Kind, a.Name)]
	if count != a.Count {
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d journaled %s %s", a.Count, a.Kind, a.Name),
			Actual:   fmt.Sprintf("%d journaled", count),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertOutputContains:
			err = assertOutputContains(result, a)
		case AssertState:
			err = assertState(result, a)
		case AssertJournalCount:
			err = assertJournalCount(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
