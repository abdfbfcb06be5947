// Package debug implements the debugger and profiler that bracket a unit's
// execution when the engine is in debug or profile mode.
//
// Both are lang.Tracer implementations. The engine installs exactly one of
// them before a unit runs and removes it afterwards, whatever the outcome.
//
// The Controller pauses at breakpoints and step boundaries. While paused the
// execution goroutine sits in the run-loop adapter's wait primitive, so a
// host that shares one thread with its UI keeps pumping events. Commands
// from the dispatch goroutine (resume, step, scope changes, code to run in
// the paused frame) are queued and picked up by that wait loop.
//
// The Profiler records call counts and wall time per routine.
package debug
