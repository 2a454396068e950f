package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/capture"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Addr  string
	Delay time.Duration
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <transcript.jsonl>",
		Short: "Serve a recorded transcript over WebSocket",
		Long: `Serve a JSONL transcript as a fake backend.

Every connecting client receives the full transcript, one frame per entry
with the configured delay between frames, then a clean close. An empty
transcript serves a connection that closes immediately.

Examples:
  goldenpath simulate session.jsonl --addr localhost:8089
  goldenpath simulate session.jsonl --delay 250ms`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:8089", "listen address")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "delay between frames")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	transcript, err := capture.LoadTranscript(path)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, err.Error(), nil)
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	formatter.Textf("serving %d event(s) on ws://%s\n", len(transcript), opts.Addr)

	sim := capture.NewSimulator(transcript, capture.WithDelay(opts.Delay))
	if err := sim.ListenAndServe(ctx, opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return formatter.Error(ExitCommandError, ErrCodeIO, "serve: "+err.Error(), nil)
	}

	return nil
}
