// Package store provides the SQLite journal behind an engine.
//
// The journal is append-only and holds two kinds of record:
//   - Messages: every protocol message an engine received or sent
//   - Profile samples: per-routine timings of a finished profiling run
//
// # Ordering
//
// Queries order by seq, the engine's logical clock, with the message ID
// as a binary-collated tiebreaker. Wall-clock created_at is stored for
// display only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
