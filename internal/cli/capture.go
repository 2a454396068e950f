package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/capture"
	"github.com/roach88/goldenpath/internal/engine"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Database string
	Contract string
	Token    string
	Record   string
	Retries  int
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture <websocket-url>",
		Short: "Capture a live event stream until interrupted",
		Long: `Connect to a backend WebSocket and ingest its event stream.

Frames that fail strict decoding are dropped and flagged with a schema
detection; the connection survives. Lost connections reconnect with capped
backoff. A clean close from the backend ends the capture; Ctrl-C does too.

--record tees every sealed event to a JSONL transcript that simulate and
replay can consume later.

Examples:
  goldenpath capture ws://localhost:8000/ws --db gp.db --contract contracts/agentchat.cue
  goldenpath capture ws://localhost:8000/ws --db gp.db --contract contracts/agentchat.cue \
    --record session.jsonl --token $BACKEND_TOKEN`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "path to CUE contract file (required)")
	_ = cmd.MarkFlagRequired("contract")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for the backend")
	cmd.Flags().StringVar(&opts.Record, "record", "", "tee captured events to a JSONL transcript")
	cmd.Flags().IntVar(&opts.Retries, "retries", 5, "reconnect attempts before giving up")

	return cmd
}

func runCapture(opts *CaptureOptions, url string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	contract, err := loadContract(formatter, opts.Contract)
	if err != nil {
		return err
	}

	st, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

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

	clientOpts := []capture.ClientOption{
		capture.WithMaxRetries(opts.Retries),
	}
	if opts.Token != "" {
		clientOpts = append(clientOpts, capture.WithBearerToken(opts.Token))
	}
	if opts.Record != "" {
		recordFile, err := os.Create(opts.Record)
		if err != nil {
			return formatter.Error(ExitCommandError, ErrCodeIO, "create transcript: "+err.Error(), nil)
		}
		defer recordFile.Close()
		clientOpts = append(clientOpts, capture.WithRecorder(capture.NewTranscriptWriter(recordFile)))
	}

	// The engine loop drains asynchronously ingested events; the client
	// blocks until the stream ends.
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	client := capture.NewClient(eng, url, clientOpts...)
	captureErr := client.Capture(ctx)

	eng.Stop()
	<-engineDone

	if captureErr != nil && !errors.Is(captureErr, context.Canceled) {
		return formatter.Error(ExitCommandError, ErrCodeCapture, captureErr.Error(), nil)
	}

	if formatter.IsJSON() {
		return formatter.JSON(map[string]any{"captured": true})
	}
	formatter.Textf("capture finished\n")

	return nil
}
