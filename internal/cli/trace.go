package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rengine/internal/protocol"
	"github.com/roach88/rengine/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	EngineID string
	Name     string
	Kind     string
	Since    uint64
	Limit    int
	Profile  bool
}

// TraceMessage is one journaled message in the output.
type TraceMessage struct {
	Seq       uint64          `json:"seq"`
	EngineID  string          `json:"engine_id"`
	Kind      protocol.Kind   `json:"kind"`
	Name      string          `json:"name"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// TraceProfile is one profiling run.
type TraceProfile struct {
	RunID   string                  `json:"run_id"`
	Entries []protocol.ProfileEntry `json:"entries"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Messages []TraceMessage `json:"messages"`
	Profiles []TraceProfile `json:"profiles,omitempty"`
	Stats    TraceStats     `json:"stats"`
}

// TraceStats counts the listed messages by kind.
type TraceStats struct {
	Total    int `json:"total"`
	Requests int `json:"requests"`
	Replies  int `json:"replies"`
	Events   int `json:"events"`
	Console  int `json:"console"`
	Errors   int `json:"errors"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print an engine journal",
		Long: `Print the messages an engine journaled, in sequence order.

Messages can be narrowed by engine, kind and name, and by sequence number
to follow a journal incrementally. With --profile the profiling runs of
the engine are listed too.

Examples:
  rengine trace --db journal.db
  rengine trace --db journal.db --kind event --name State.Done
  rengine trace --db journal.db --since 120 --limit 20
  rengine trace --db journal.db --profile --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.EngineID, "engine", "", "only messages of this engine")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only messages with this verb, topic or console name")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only messages of this kind (request|reply|event|console)")
	cmd.Flags().Uint64Var(&opts.Since, "since", 0, "only messages after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of messages (0 for all)")
	cmd.Flags().BoolVar(&opts.Profile, "profile", false, "include profiling runs")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, w io.Writer) error {
	kind := protocol.Kind(opts.Kind)
	if opts.Kind != "" && !kind.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q", opts.Kind))
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "limit must be non-negative")
	}
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	records, err := st.Messages(ctx, store.Filter{
		Kind:     kind,
		Name:     opts.Name,
		EngineID: opts.EngineID,
		SinceSeq: opts.Since,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{Messages: make([]TraceMessage, 0, len(records))}
	for _, rec := range records {
		m := rec.Message
		result.Messages = append(result.Messages, TraceMessage{
			Seq:       m.Seq,
			EngineID:  rec.EngineID,
			Kind:      m.Kind,
			Name:      m.Name,
			From:      m.From,
			To:        m.To,
			ReplyTo:   m.ReplyTo,
			Payload:   m.Payload,
			Error:     m.Error,
			CreatedAt: rec.CreatedAt,
		})
		result.Stats.add(m)
	}

	if opts.Profile {
		result.Profiles, err = profiles(ctx, st, opts.EngineID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read profiles", err)
		}
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: w}
		return f.Response(CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(w, result, opts.Verbose)
}

func (s *TraceStats) add(m protocol.Message) {
	s.Total++
	switch m.Kind {
	case protocol.KindRequest:
		s.Requests++
	case protocol.KindReply:
		s.Replies++
	case protocol.KindEvent:
		s.Events++
	case protocol.KindConsole:
		s.Console++
	}
	if m.Error != "" {
		s.Errors++
	}
}

// profiles reads the profiling runs of engineID, or of every engine.
func profiles(ctx context.Context, st *store.Store, engineID string) ([]TraceProfile, error) {
	engines := []string{engineID}
	if engineID == "" {
		var err error
		if engines, err = st.Engines(ctx); err != nil {
			return nil, err
		}
	}
	var out []TraceProfile
	for _, id := range engines {
		runs, err := st.ProfileRuns(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			entries, err := st.Profile(ctx, run)
			if err != nil {
				return nil, err
			}
			out = append(out, TraceProfile{RunID: run, Entries: entries})
		}
	}
	return out, nil
}

// outputTraceText prints one line per message. Payloads are shown in
// canonical form, shortened unless verbose.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if len(result.Messages) == 0 {
		fmt.Fprintln(w, "No messages found.")
	}
	for _, m := range result.Messages {
		fmt.Fprintf(w, "[%d] %-7s %-20s %s\n", m.Seq, m.Kind, m.Name, summarize(m, verbose))
	}

	for _, p := range result.Profiles {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "=== Profile %s ===\n", truncateID(p.RunID))
		for _, e := range p.Entries {
			fmt.Fprintf(w, "  %-24s %8d calls %12s total %12s max\n",
				e.Name, e.Calls, time.Duration(e.TotalNS), time.Duration(e.MaxNS))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d (%d requests, %d replies, %d events, %d console, %d errors)\n",
		result.Stats.Total, result.Stats.Requests, result.Stats.Replies,
		result.Stats.Events, result.Stats.Console, result.Stats.Errors)
	return nil
}

const summaryWidth = 72

func summarize(m TraceMessage, verbose bool) string {
	if m.Error != "" {
		return "error: " + m.Error
	}
	if len(m.Payload) == 0 {
		return "-"
	}
	data, err := protocol.MarshalCanonical(m.Payload)
	if err != nil {
		return string(m.Payload)
	}
	s := string(data)
	if !verbose && len(s) > summaryWidth {
		s = s[:summaryWidth-3] + "..."
	}
	return s
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
