package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/launcher"
	"github.com/roach88/goldenpath/internal/record"
)

// DiagnoseOptions holds flags for the diagnose command.
type DiagnoseOptions struct {
	*RootOptions
	Port            int
	MemoryThreshold float64
}

// DiagnoseResult is the data payload of a diagnose run.
type DiagnoseResult struct {
	Findings []record.Detection `json:"findings"`
	Critical int                `json:"critical"`
}

// NewDiagnoseCommand creates the diagnose command.
func NewDiagnoseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiagnoseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run one-shot system diagnostics",
		Long: `Inspect the host the way the launcher does after a crash: port
conflicts on --port, zombie processes, and memory pressure. Probes that
cannot read system state degrade to warnings in the log.

Exit codes:
  0 - no critical findings
  1 - at least one critical finding
  2 - command error

Examples:
  goldenpath diagnose
  goldenpath diagnose --port 8000 --memory-threshold 85`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "check this TCP port for conflicts")
	cmd.Flags().Float64Var(&opts.MemoryThreshold, "memory-threshold", 90, "used-memory percent that counts as pressure")

	return cmd
}

func runDiagnose(opts *DiagnoseOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	diag := launcher.NewDiagnostics(opts.MemoryThreshold, slog.Default())
	findings := diag.Run(context.Background(), opts.Port)

	result := DiagnoseResult{Findings: findings}
	for _, finding := range findings {
		if finding.Severity == record.SeverityCritical {
			result.Critical++
		}
	}

	if result.Critical > 0 {
		return formatter.Error(ExitFailure, ErrCodeDiagnoseCrit,
			"critical system findings", result)
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	if len(findings) == 0 {
		formatter.Textf("no findings\n")
		return nil
	}
	for _, finding := range findings {
		formatter.Textf("%s %s: %s\n", finding.Severity, finding.Detector, finding.Description)
	}

	return nil
}
