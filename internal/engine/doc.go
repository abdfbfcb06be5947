// Package engine implements the remote interactive execution engine.
//
// An Engine owns one persistent namespace and one execution slot and is
// driven entirely by protocol messages arriving over a bus.Transport.
//
// ARCHITECTURE:
//
// Single dispatch loop:
// Requests are queued in arrival order and handled one at a time by Run.
// Handlers compile console input, answer queries and schedule work; they
// never execute user code themselves.
//
// Execution slot:
// User code runs only inside jobs handed to the runloop.Adapter chosen at
// construction. The adapter decides which goroutine runs a job (a worker,
// a foreign loop or the dispatch goroutine itself); the engine only
// guarantees that a job is scheduled from Idle and that at most one is in
// flight.
//
// Out-of-band control:
// Stop is not queued. It is acted on from the transport goroutine so that
// it reaches a unit that is busy, paused or blocked on line input.
//
// State events:
// Every transition is published before it becomes observable: State.Busy
// before a unit starts, Debug.Paused before the debugger blocks, and
// exactly one of State.Done or State.Stopped after a unit ends.
//
// Ordering:
// Outgoing messages carry a sequence number from the engine's logical
// Clock. Wall-clock time is never used to order anything.
package engine
