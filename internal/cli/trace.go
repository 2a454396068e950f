package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/queryir"
	"github.com/roach88/goldenpath/internal/querysql"
	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Filter   string
}

// TraceEventView is one event row in trace output.
type TraceEventView struct {
	Seq     int64         `json:"seq"`
	Type    string        `json:"type"`
	Payload record.Object `json:"payload"`
	ID      string        `json:"id"`
}

// TraceDetectionView is one detection row in trace output.
type TraceDetectionView struct {
	Seq      int64  `json:"seq"`
	Detector string `json:"detector"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	ID       string `json:"id"`
}

// TraceResult is the data payload of a trace.
type TraceResult struct {
	RunToken   string               `json:"run_token"`
	Found      bool                 `json:"found"`
	Status     string               `json:"status,omitempty"`
	Events     []TraceEventView     `json:"events"`
	Detections []TraceDetectionView `json:"detections"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <run-token>",
		Short: "Print a run's timeline and detections",
		Long: `Print a run's event timeline with its detections in seq order.

--filter narrows the events with a small conjunction language over event
columns, e.g. --filter "type == tool_executing". An unknown run is an empty
result, not an error.

Examples:
  goldenpath trace run-7 --db gp.db
  goldenpath trace run-7 --db gp.db --filter "type == tool_executing"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "event filter, e.g. \"type == agent_started\"")

	return cmd
}

func runTrace(opts *TraceOptions, runToken string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	events, detections, err := st.ReadRun(ctx, runToken)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "read run: "+err.Error(), nil)
	}

	if opts.Filter != "" {
		events, err = filterEvents(ctx, st, runToken, opts.Filter, events)
		if err != nil {
			return formatter.Error(ExitCommandError, ErrCodeIO, err.Error(), nil)
		}
	}

	result := TraceResult{
		RunToken:   runToken,
		Found:      len(events) > 0 || len(detections) > 0,
		Events:     []TraceEventView{},
		Detections: []TraceDetectionView{},
	}
	if run, err := st.GetRun(ctx, runToken); err == nil {
		result.Status = run.Status
	}
	for _, ev := range events {
		result.Events = append(result.Events, TraceEventView{
			Seq: ev.Seq, Type: ev.Type, Payload: ev.Payload, ID: ev.ID,
		})
	}
	for _, d := range detections {
		result.Detections = append(result.Detections, TraceDetectionView{
			Seq: d.Seq, Detector: d.Detector, Severity: string(d.Severity), Title: d.Title, ID: d.ID,
		})
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	if !result.Found {
		formatter.Textf("run %s: no recorded events\n", runToken)
		return nil
	}

	formatter.Textf("run %s status=%s\n", runToken, result.Status)
	for _, ev := range result.Events {
		payload, _ := json.Marshal(ev.Payload)
		formatter.Textf("  %4d  %-18s %s\n", ev.Seq, ev.Type, payload)
	}
	for _, d := range result.Detections {
		formatter.Textf("  %4d  !%s [%s] %s\n", d.Seq, d.Detector, d.Severity, d.Title)
	}

	return nil
}

// filterEvents narrows a run's events with the filter language, compiled to
// SQL over the events table.
func filterEvents(ctx context.Context, st *store.Store, runToken, filter string, events []record.EmittedEvent) ([]record.EmittedEvent, error) {
	predicate, err := queryir.ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	query := queryir.Select{
		From: "events",
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.BoundEquals{Field: "run_token", BoundVar: "bound.run_token"},
			predicate,
		}},
		Bindings: map[string]string{"id": "event_id"},
	}

	sqlc := querysql.NewSQLCompiler()
	if err := sqlc.Bind("bound.run_token", record.String(runToken)); err != nil {
		return nil, err
	}
	sqlText, args, err := sqlc.Compile(query)
	if err != nil {
		return nil, err
	}

	rows, err := st.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings, err := querysql.ScanBindings(rows)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(bindings))
	for _, row := range bindings {
		if id, ok := row["event_id"].(record.String); ok {
			keep[string(id)] = true
		}
	}

	var filtered []record.EmittedEvent
	for _, ev := range events {
		if keep[ev.ID] {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}
