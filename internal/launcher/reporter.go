package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// Report is the JSON shape of the crash-recovery report.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Service     string                 `json:"service,omitempty"`
	Crashes     []CrashSummary         `json:"crashes"`
	Policies    []record.LearnedPolicy `json:"policies,omitempty"`
}

// CrashSummary pairs a crash report with the recovery attempts made for it.
type CrashSummary struct {
	record.CrashReport
	Attempts []record.RecoveryAttempt `json:"attempts"`
}

// Reporter assembles crash-recovery reports from the store.
type Reporter struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReporter builds a Reporter.
func NewReporter(st *store.Store, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{store: st, logger: logger, now: time.Now}
}

// Build collects the most recent crashes for a service (empty service means
// all services) with their recovery attempts. includePolicies adds the
// learned policy table.
func (r *Reporter) Build(ctx context.Context, service string, limit int, includePolicies bool) (Report, error) {
	crashes, err := r.store.ListCrashReports(ctx, service, limit)
	if err != nil {
		return Report{}, fmt.Errorf("build report: %w", err)
	}

	report := Report{
		GeneratedAt: r.now().UTC(),
		Service:     service,
		Crashes:     make([]CrashSummary, 0, len(crashes)),
	}

	for _, crash := range crashes {
		attempts, err := r.store.ListRecoveryAttempts(ctx, crash.ID)
		if err != nil {
			return Report{}, fmt.Errorf("build report: crash %s: %w", crash.ID, err)
		}
		report.Crashes = append(report.Crashes, CrashSummary{CrashReport: crash, Attempts: attempts})
	}

	if includePolicies {
		policies, err := r.store.ListRecoveryPolicies(ctx, "")
		if err != nil {
			return Report{}, fmt.Errorf("build report: %w", err)
		}
		report.Policies = policies
	}

	return report, nil
}

// Log emits a structured summary of the report.
func (r *Reporter) Log(report Report) {
	recovered := 0
	for _, crash := range report.Crashes {
		for _, attempt := range crash.Attempts {
			if attempt.Succeeded && !attempt.DryRun {
				recovered++
				break
			}
		}
	}

	r.logger.Info("crash report",
		"service", report.Service,
		"crashes", len(report.Crashes),
		"recovered", recovered,
		"policies", len(report.Policies),
	)

	for _, crash := range report.Crashes {
		r.logger.Info("crash",
			"crash_id", crash.ID,
			"service", crash.Service,
			"crashed_at", crash.CrashedAt,
			"exit_code", crash.ExitCode,
			"signal", crash.Signal,
			"findings", len(crash.Findings),
			"attempts", len(crash.Attempts),
		)
	}
}

// WriteJSON writes the report as indented JSON.
func (r *Reporter) WriteJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
