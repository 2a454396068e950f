package cli

import (
	"context"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/capture"
	"github.com/roach88/goldenpath/internal/engine"
	"github.com/roach88/goldenpath/internal/record"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Contract string
}

// ReplayResult is the data payload of a replay verification.
type ReplayResult struct {
	Events        int  `json:"events"`
	Inserted      int  `json:"inserted"`
	Duplicates    int  `json:"duplicates"`
	Dropped       int  `json:"dropped"`
	Runs          int  `json:"runs"`
	Deterministic bool `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <transcript.jsonl>",
		Short: "Replay a transcript twice and verify idempotency",
		Long: `Ingest a transcript twice into the same database and verify that the
second pass is a structural no-op: every event deduplicates or drops over
quota exactly as on the first pass, no new detections appear, and every
run's final state is unchanged.

Events keep their recorded seq and contract hash, so replaying a transcript
captured under a different contract surfaces authenticity detections instead
of silently reinterpreting the stream.

Exit codes:
  0 - replay is deterministic
  1 - second pass diverged
  2 - command error

Examples:
  goldenpath replay session.jsonl --db gp.db --contract contracts/agentchat.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "path to CUE contract file (required)")
	_ = cmd.MarkFlagRequired("contract")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	transcript, err := capture.LoadTranscript(path)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, err.Error(), nil)
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

	result := ReplayResult{Events: len(transcript)}

	// Over-quota drops are part of the recorded behavior: a transcript teed
	// from a live session keeps the events its engine dropped, and replaying
	// them must drop them again, not abort.
	ingest := func() (duplicates, dropped int, err error) {
		for i, entry := range transcript {
			ev, err := eng.Seal(entry.Envelope(record.OriginSimulated))
			if err != nil {
				return 0, 0, fmt.Errorf("transcript entry %d: %w", i+1, err)
			}
			res, err := eng.Process(ctx, ev)
			if err != nil && !engine.IsRunLimitError(err) {
				return 0, 0, fmt.Errorf("transcript entry %d: %w", i+1, err)
			}
			if res.Duplicate {
				duplicates++
			}
			if res.Dropped {
				dropped++
			}
		}
		return duplicates, dropped, nil
	}

	firstDuplicates, firstDropped, err := ingest()
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, err.Error(), nil)
	}
	result.Inserted = len(transcript) - firstDuplicates - firstDropped
	result.Dropped = firstDropped

	firstRuns, err := st.ListRuns(ctx)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "read runs: "+err.Error(), nil)
	}

	secondDuplicates, secondDropped, err := ingest()
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, err.Error(), nil)
	}
	result.Duplicates = secondDuplicates

	secondRuns, err := st.ListRuns(ctx)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "read runs: "+err.Error(), nil)
	}
	result.Runs = len(secondRuns)

	result.Deterministic = secondDuplicates+secondDropped == len(transcript) &&
		secondDropped == firstDropped &&
		reflect.DeepEqual(firstRuns, secondRuns)
	if !result.Deterministic {
		return formatter.Error(ExitFailure, ErrCodeDeterminism,
			fmt.Sprintf("replay diverged: %d of %d events deduplicated", secondDuplicates, len(transcript)),
			result)
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}
	formatter.Textf("replay deterministic: %d event(s), %d run(s), second pass fully deduplicated\n",
		result.Events, result.Runs)
	if result.Dropped > 0 {
		formatter.Textf("%d event(s) over quota, dropped on both passes\n", result.Dropped)
	}

	return nil
}
