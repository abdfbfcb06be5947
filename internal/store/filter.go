package store

import (
	"strings"

	"github.com/roach88/rengine/internal/protocol"
)

// Filter selects journal messages. Zero fields match everything.
type Filter struct {
	Kind     protocol.Kind
	Name     string
	EngineID string

	// SinceSeq keeps messages with a larger sequence number.
	SinceSeq uint64

	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

// compile converts f to parameterized SQL over the messages table.
//
// Every query carries ORDER BY seq ASC, id ASC COLLATE BINARY.
// Values are always bound as parameters, never interpolated.
func (f Filter) compile() (string, []any) {
	var where []string
	var params []any

	if f.Kind != "" {
		where = append(where, "kind = ?")
		params = append(params, string(f.Kind))
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		params = append(params, f.Name)
	}
	if f.EngineID != "" {
		where = append(where, "engine_id = ?")
		params = append(params, f.EngineID)
	}
	if f.SinceSeq > 0 {
		where = append(where, "seq > ?")
		params = append(params, int64(f.SinceSeq))
	}

	var b strings.Builder
	b.WriteString("SELECT " + messageColumns + " FROM messages")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq ASC, id ASC COLLATE BINARY")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, f.Limit)
	}

	return b.String(), params
}

const messageColumns = "id, seq, engine_id, kind, name, from_ep, to_ep, reply_to, payload, error, created_at"
