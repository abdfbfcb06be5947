package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/rengine/internal/protocol"
)

// Record is one journaled message.
type Record struct {
	EngineID  string
	CreatedAt time.Time
	Message   protocol.Message
}

// Messages returns the journaled messages matching f in sequence order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Messages(ctx context.Context, f Filter) ([]Record, error) {
	query, params := f.compile()
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r       Record
		seq     int64
		kind    string
		payload string
		created int64
	)
	m := &r.Message
	if err := rows.Scan(&m.ID, &seq, &r.EngineID, &kind, &m.Name, &m.From, &m.To, &m.ReplyTo, &payload, &m.Error, &created); err != nil {
		return Record{}, fmt.Errorf("scan message: %w", err)
	}
	m.Seq = uint64(seq)
	m.Kind = protocol.Kind(kind)
	if payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return r, nil
}

// Engines returns the IDs of every engine with journaled messages, sorted.
func (s *Store) Engines(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT engine_id FROM messages ORDER BY engine_id COLLATE BINARY ASC`)
}

// ProfileRuns returns the IDs of the recorded profiling runs of engineID.
// UUIDv7 run IDs sort in creation order.
func (s *Store) ProfileRuns(ctx context.Context, engineID string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT run_id FROM profile_samples
		WHERE engine_id = ?
		ORDER BY run_id COLLATE BINARY ASC
	`, engineID)
}

// Profile returns the samples of one profiling run, slowest routine first.
func (s *Store) Profile(ctx context.Context, runID string) ([]protocol.ProfileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, calls, total_ns, max_ns FROM profile_samples
		WHERE run_id = ?
		ORDER BY total_ns DESC, name COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer rows.Close()

	entries := []protocol.ProfileEntry{}
	for rows.Next() {
		var e protocol.ProfileEntry
		if err := rows.Scan(&e.Name, &e.Calls, &e.TotalNS, &e.MaxNS); err != nil {
			return nil, fmt.Errorf("scan profile sample: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile samples: %w", err)
	}
	return entries, nil
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}
