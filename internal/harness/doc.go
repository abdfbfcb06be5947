// Package harness runs conformance scenarios against a live engine.
//
// A scenario is a YAML file listing steps to drive an engine through and
// assertions over what it emitted:
//
//	name: print_and_eval
//	description: a statement prints, an expression evaluates
//	host: internal
//	steps:
//	  - push: "x = 6 * 7"
//	  - push: "print(x)"
//	  - eval: "x + 1"
//	    expect: "43"
//	assertions:
//	  - type: output_contains
//	    stream: stdout
//	    text: "42"
//	  - type: event_count
//	    name: State.Done
//	    count: 2
//
// Each scenario runs in a fresh engine on an in-process bus, with an
// in-memory journal. The engine's messages are recorded in sequence order
// and form the scenario's trace, which assertions inspect and which can be
// compared against a golden transcript.
//
// # Determinism
//
// Under the internal host every message is emitted from one goroutine, so
// the trace of a scenario is identical from run to run and golden
// comparison is exact. Loop-backed hosts emit output from the host
// goroutine; their traces are stable only where the scenario waits for
// each unit to finish before starting the next.
//
// Replies are left out of the trace. Their relative order to events is
// decided by the controller, not the engine.
package harness
