package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/engine"
	"github.com/roach88/goldenpath/internal/record"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Database string
	Contract string
	RunToken string
	Payload  string
}

// EmitResult is the data payload of an emit.
type EmitResult struct {
	EventID    string             `json:"event_id"`
	RunToken   string             `json:"run_token"`
	Seq        int64              `json:"seq"`
	Duplicate  bool               `json:"duplicate"`
	Dropped    bool               `json:"dropped"`
	Status     string             `json:"status,omitempty"`
	Detections []record.Detection `json:"detections"`
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <event-type>",
		Short: "Inject one event into a run",
		Long: `Inject a single event and print the detections it provoked.

The event goes through the same seal-and-process path as captured events,
with origin "injected". Re-emitting the same event is a structural no-op
and reports duplicate: true.

Examples:
  goldenpath emit agent_started --db gp.db --contract contracts/agentchat.cue --run run-1 \
    --payload '{"agent_id":"helper","message_id":"m-1"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "path to CUE contract file (required)")
	_ = cmd.MarkFlagRequired("contract")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "run token (generated when omitted)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "event payload as JSON")

	return cmd
}

func runEmit(opts *EmitOptions, eventType string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	payload, err := record.ParseObject([]byte(opts.Payload))
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "invalid --payload JSON: "+err.Error(), nil)
	}

	contract, err := loadContract(formatter, opts.Contract)
	if err != nil {
		return err
	}

	st, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.WriteContract(ctx, contract); err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "write contract: "+err.Error(), nil)
	}

	eng, err := engine.New(st, contract)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "start engine: "+err.Error(), nil)
	}
	if err := eng.Resume(ctx); err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "resume clock: "+err.Error(), nil)
	}

	runToken := opts.RunToken
	if runToken == "" {
		runToken = eng.NewRun()
	}

	ev, err := eng.Seal(engine.Envelope{
		RunToken: runToken,
		Type:     eventType,
		Payload:  payload,
		Origin:   record.OriginInjected,
	})
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "seal event: "+err.Error(), nil)
	}

	// An over-quota drop is a reportable verdict, not a command failure.
	res, err := eng.Process(ctx, ev)
	if err != nil && !engine.IsRunLimitError(err) {
		return formatter.Error(ExitCommandError, ErrCodeIO, "process event: "+err.Error(), nil)
	}

	result := EmitResult{
		EventID:    ev.ID,
		RunToken:   runToken,
		Seq:        ev.Seq,
		Duplicate:  res.Duplicate,
		Dropped:    res.Dropped,
		Status:     res.Status,
		Detections: res.Detections,
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	formatter.Textf("event %s seq=%d run=%s", ev.Type, ev.Seq, runToken)
	if res.Duplicate {
		formatter.Textf(" (duplicate)")
	}
	if res.Dropped {
		formatter.Textf(" (dropped, over quota)")
	}
	formatter.Textf("\n")
	for _, d := range result.Detections {
		formatter.Textf("  %s %s: %s\n", d.Severity, d.Detector, d.Title)
	}

	return nil
}
