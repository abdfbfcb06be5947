package store

import (
	"context"
	"fmt"

	"github.com/roach88/rengine/internal/protocol"
)

// Append records a message exchanged by engineID.
// Uses ON CONFLICT(id) DO NOTHING so a message recorded twice is kept once.
func (s *Store) Append(ctx context.Context, engineID string, m protocol.Message) error {
	if engineID == "" {
		return fmt.Errorf("append %s: empty engine id", m.Name)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("append %s: invalid kind %q", m.Name, m.Kind)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
		(id, seq, engine_id, kind, name, from_ep, to_ep, reply_to, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		int64(m.Seq),
		engineID,
		string(m.Kind),
		m.Name,
		m.From,
		m.To,
		m.ReplyTo,
		string(m.Payload),
		m.Error,
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append %s: %w", m.Name, err)
	}

	return nil
}

// AppendProfile records the entries of one profiling run in a single
// transaction. Writing the same run again replaces its samples.
func (s *Store) AppendProfile(ctx context.Context, engineID, runID string, entries []protocol.ProfileEntry) error {
	if runID == "" {
		return fmt.Errorf("append profile: empty run id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append profile: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profile_samples (run_id, engine_id, name, calls, total_ns, max_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, name) DO UPDATE SET
			engine_id = excluded.engine_id,
			calls = excluded.calls,
			total_ns = excluded.total_ns,
			max_ns = excluded.max_ns
	`)
	if err != nil {
		return fmt.Errorf("append profile: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, runID, engineID, e.Name, e.Calls, e.TotalNS, e.MaxNS); err != nil {
			return fmt.Errorf("append profile %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append profile: commit: %w", err)
	}
	return nil
}
