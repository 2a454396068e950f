package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/launcher"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Service  string
	Limit    int
	Policies bool
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print crash reports and recovery history",
		Long: `Print the crash reports the launcher has persisted, each with its
recovery attempts. --policies adds the learned (category, action) success
counters the launcher ranks recovery actions by.

Examples:
  goldenpath report --db gp.db
  goldenpath report --db gp.db --service backend --limit 5 --policies
  goldenpath report --db gp.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Service, "service", "", "only this service's crashes")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "most recent crashes to include (0 = all)")
	cmd.Flags().BoolVar(&opts.Policies, "policies", false, "include learned recovery policies")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	reporter := launcher.NewReporter(st, slog.Default())
	report, err := reporter.Build(context.Background(), opts.Service, opts.Limit, opts.Policies)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, err.Error(), nil)
	}

	if formatter.IsJSON() {
		return formatter.JSON(report)
	}

	if len(report.Crashes) == 0 {
		formatter.Textf("no crash reports\n")
	}
	for _, crash := range report.Crashes {
		formatter.Textf("%s  %s  exit=%d", crash.CrashedAt.Format("2006-01-02 15:04:05"), crash.Service, crash.ExitCode)
		if crash.Signal != "" {
			formatter.Textf(" signal=%s", crash.Signal)
		}
		formatter.Textf("  findings=%d\n", len(crash.Findings))
		for _, attempt := range crash.Attempts {
			mode := "applied"
			if attempt.DryRun {
				mode = "dry-run"
			}
			formatter.Textf("    %s %s target=%q succeeded=%t (%s)\n",
				mode, attempt.Action, attempt.Target, attempt.Succeeded, attempt.Note)
		}
	}
	if opts.Policies {
		formatter.Textf("policies:\n")
		for _, policy := range report.Policies {
			formatter.Textf("  %-16s %-13s %d/%d\n",
				policy.Category, policy.Action, policy.Successes, policy.Attempts)
		}
	}

	return nil
}
