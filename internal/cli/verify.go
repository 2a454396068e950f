package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/record"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	Contract string
}

// VerifyResult is the data payload of a verify run.
type VerifyResult struct {
	Events     int      `json:"events"`
	Runs       int      `json:"runs"`
	GoldenRuns int      `json:"golden_runs,omitempty"`
	Problems   []string `json:"problems,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the event log",
		Long: `Recompute every event's content hash and check the log's invariants:
stored IDs match recomputed IDs, per-run seq values are strictly increasing,
and every event in a run carries the same contract hash.

With --contract, completed runs are additionally summarized against the
contract's golden path.

Exit codes:
  0 - log verifies
  1 - integrity problem found
  2 - command error

Examples:
  goldenpath verify --db gp.db
  goldenpath verify --db gp.db --contract contracts/agentchat.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "CUE contract for the golden-path summary")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var goldenPath []string
	if opts.Contract != "" {
		contract, err := loadContract(formatter, opts.Contract)
		if err != nil {
			return err
		}
		goldenPath = contract.GoldenPath
	}

	st, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	events, err := st.ReadAllEvents(ctx)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "read events: "+err.Error(), nil)
	}

	result := VerifyResult{Events: len(events)}

	byRun := make(map[string][]record.EmittedEvent)
	for _, ev := range events {
		byRun[ev.RunToken] = append(byRun[ev.RunToken], ev)

		id, err := record.EventID(ev.RunToken, ev.Type, ev.Payload, ev.Seq)
		if err != nil {
			result.Problems = append(result.Problems,
				fmt.Sprintf("event %s: recompute id: %v", ev.ID, err))
			continue
		}
		if id != ev.ID {
			result.Problems = append(result.Problems,
				fmt.Sprintf("event %s (run %s seq %d): stored id does not match content", ev.ID, ev.RunToken, ev.Seq))
		}
	}
	result.Runs = len(byRun)

	tokens := make([]string, 0, len(byRun))
	for token := range byRun {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		runEvents := byRun[token]
		sort.Slice(runEvents, func(i, j int) bool { return runEvents[i].Seq < runEvents[j].Seq })

		for i := 1; i < len(runEvents); i++ {
			if runEvents[i].Seq <= runEvents[i-1].Seq {
				result.Problems = append(result.Problems,
					fmt.Sprintf("run %s: seq not strictly increasing at %d", token, runEvents[i].Seq))
			}
		}

		for _, ev := range runEvents {
			if ev.ContractHash != runEvents[0].ContractHash {
				result.Problems = append(result.Problems,
					fmt.Sprintf("run %s: mixed contract hashes (%s vs %s)", token, runEvents[0].ContractHash, ev.ContractHash))
				break
			}
		}

		if len(goldenPath) > 0 && matchesGoldenPath(runEvents, goldenPath) {
			result.GoldenRuns++
		}
	}

	if len(result.Problems) > 0 {
		return formatter.Error(ExitFailure, ErrCodeVerifyFailed,
			fmt.Sprintf("%d integrity problem(s)", len(result.Problems)), result)
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	formatter.Textf("verified %d event(s) across %d run(s)\n", result.Events, result.Runs)
	if len(goldenPath) > 0 {
		formatter.Textf("%d run(s) walked the golden path\n", result.GoldenRuns)
	}

	return nil
}

// matchesGoldenPath reports whether the run's event types are exactly the
// golden path sequence.
func matchesGoldenPath(events []record.EmittedEvent, goldenPath []string) bool {
	if len(events) != len(goldenPath) {
		return false
	}
	for i, ev := range events {
		if ev.Type != goldenPath[i] {
			return false
		}
	}
	return true
}
