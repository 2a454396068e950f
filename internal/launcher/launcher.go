package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/goldenpath/internal/config"
	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// Launcher supervises the configured services: start, stream output, wait
// for readiness, and on crash diagnose, persist, recover, and restart with
// capped exponential backoff.
type Launcher struct {
	cfg      config.LauncherConfig
	env      config.Environment
	store    *store.Store
	diag     *Diagnostics
	recovery *Recovery
	policies *Policies
	logger   *slog.Logger

	now        func() time.Time
	newCrashID func() string
	sleep      func(ctx context.Context, d time.Duration) error
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLauncherLogger sets the logger. Defaults to slog.Default().
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// WithClock sets the wall-clock source for crash timestamps.
func WithClock(now func() time.Time) LauncherOption {
	return func(l *Launcher) { l.now = now }
}

// WithCrashIDs sets the crash id source. Defaults to UUIDv7.
func WithCrashIDs(newID func() string) LauncherOption {
	return func(l *Launcher) { l.newCrashID = newID }
}

// WithDiagnostics replaces the system diagnostics.
func WithDiagnostics(diag *Diagnostics) LauncherOption {
	return func(l *Launcher) { l.diag = diag }
}

// WithRecovery replaces the recovery executor.
func WithRecovery(recovery *Recovery) LauncherOption {
	return func(l *Launcher) { l.recovery = recovery }
}

// New builds a Launcher over the given store. The environment gates recovery
// execution; it is passed in, never sniffed.
func New(cfg config.LauncherConfig, env config.Environment, st *store.Store, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		cfg:   cfg,
		env:   env,
		store: st,
		now:   time.Now,
		newCrashID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
		sleep: sleepCtx,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.diag == nil {
		l.diag = NewDiagnostics(cfg.MemoryThresholdPercent, l.logger)
	}
	if l.recovery == nil {
		l.recovery = NewRecovery(env, cfg.AllowDestructive, cfg.MemoryThresholdPercent, l.logger)
	}
	l.policies = NewPolicies(st, l.logger)

	return l
}

// Run supervises every configured service until the context is canceled or
// a service exhausts its restart budget. The returned error joins the
// per-service failures; context cancellation is a clean stop.
func (l *Launcher) Run(ctx context.Context) error {
	if len(l.cfg.Services) == 0 {
		return errors.New("launcher: no services configured")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, svc := range l.cfg.Services {
		wg.Add(1)
		go func(svc config.ServiceConfig) {
			defer wg.Done()
			if err := l.supervise(ctx, svc); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(svc)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// supervise runs one service's crash-restart loop.
func (l *Launcher) supervise(ctx context.Context, svc config.ServiceConfig) error {
	restarts := 0
	backoff := l.cfg.BackoffBase.Std()

	for {
		run, err := startService(ctx, svc, l.logger, l.now)
		if err != nil {
			return err
		}

		if err := waitReady(ctx, svc); err != nil {
			l.logger.Warn("service not ready", "service", svc.Name, "error", err)
		} else if svc.Port > 0 {
			l.logger.Info("service ready", "service", svc.Name, "port", svc.Port)
		}

		select {
		case <-ctx.Done():
			l.stopService(svc, run)
			return nil
		case exitErr := <-run.done:
			if ctx.Err() != nil {
				// Shutdown killed the process; not a crash.
				return nil
			}
			if exitErr == nil {
				l.logger.Info("service exited cleanly", "service", svc.Name)
				return nil
			}

			report := l.handleCrash(ctx, svc, run, exitErr, restarts)

			restarts++
			if restarts > l.cfg.MaxRestarts {
				return fmt.Errorf("service %s: restart budget exhausted after %d crashes (last crash %s)",
					svc.Name, restarts, report.ID)
			}

			l.logger.Info("restarting service",
				"service", svc.Name,
				"attempt", restarts,
				"max_restarts", l.cfg.MaxRestarts,
				"backoff", backoff,
			)
			if err := l.sleep(ctx, backoff); err != nil {
				return nil
			}

			backoff *= 2
			if limit := l.cfg.BackoffMax.Std(); limit > 0 && backoff > limit {
				backoff = limit
			}
		}
	}
}

// stopService terminates the process and waits for its exit during shutdown.
func (l *Launcher) stopService(svc config.ServiceConfig, run *runningService) {
	if run.cmd.Process != nil {
		_ = run.cmd.Process.Kill()
	}
	<-run.done
	l.logger.Info("service stopped", "service", svc.Name)
}

// handleCrash diagnoses the crash, persists the report, and applies the
// suggested recovery action. Persistence failures are logged, never fatal:
// the supervision loop must keep running even when the database misbehaves.
func (l *Launcher) handleCrash(ctx context.Context, svc config.ServiceConfig, run *runningService, exitErr error, restarts int) record.CrashReport {
	exitCode, signal := classifyExit(exitErr)
	crashedAt := l.now()

	report := record.CrashReport{
		ID:            l.newCrashID(),
		Service:       svc.Name,
		Pid:           run.Pid(),
		Command:       commandLine(svc),
		ExitCode:      exitCode,
		Signal:        signal,
		StartedAt:     run.startedAt.UTC(),
		CrashedAt:     crashedAt.UTC(),
		UptimeSeconds: int64(crashedAt.Sub(run.startedAt).Seconds()),
		Environment:   string(l.env),
		RestartCount:  restarts,
		Findings:      l.diag.Run(ctx, svc.Port),
	}

	l.logger.Error("service crashed",
		"service", svc.Name,
		"pid", report.Pid,
		"exit_code", exitCode,
		"signal", signal,
		"uptime_seconds", report.UptimeSeconds,
		"findings", len(report.Findings),
		"crash_id", report.ID,
	)

	if err := l.store.WriteCrashReport(ctx, report); err != nil {
		l.logger.Error("persist crash report failed", "crash_id", report.ID, "error", err)
		return report
	}

	l.applyRecovery(ctx, svc, report)

	return report
}

// applyRecovery picks and applies a recovery action for the crash, then
// records the attempt and its outcome.
func (l *Launcher) applyRecovery(ctx context.Context, svc config.ServiceConfig, report record.CrashReport) {
	category := classifyCrash(report)

	action, err := l.policies.Suggest(ctx, category)
	if err != nil {
		l.logger.Error("recovery suggestion failed", "category", category, "error", err)
		return
	}

	target := recoveryTarget(action, svc, report)
	outcome := l.recovery.Apply(ctx, action, target)

	l.logger.Info("recovery attempted",
		"service", svc.Name,
		"category", category,
		"action", action,
		"target", target,
		"succeeded", outcome.Succeeded,
		"dry_run", outcome.DryRun,
		"note", outcome.Note,
	)

	attempt := record.RecoveryAttempt{
		CrashID:   report.ID,
		Action:    action,
		Target:    target,
		Succeeded: outcome.Succeeded,
		DryRun:    outcome.DryRun,
		Note:      outcome.Note,
		At:        l.now().UTC(),
	}
	if _, err := l.store.WriteRecoveryAttempt(ctx, attempt); err != nil {
		l.logger.Error("persist recovery attempt failed", "crash_id", report.ID, "error", err)
	}

	if err := l.policies.Record(ctx, category, action, outcome, l.now().UTC()); err != nil {
		l.logger.Error("update recovery policy failed", "category", category, "error", err)
	}
}

// recoveryTarget derives the action target from the crash context: the
// service port for free_port, the offending pid from the findings for
// kill_process.
func recoveryTarget(action string, svc config.ServiceConfig, report record.CrashReport) string {
	switch action {
	case record.ActionFreePort:
		return strconv.Itoa(svc.Port)
	case record.ActionKillProcess:
		for _, finding := range report.Findings {
			for _, evidence := range finding.Evidence {
				if strings.HasPrefix(evidence, "pid:") {
					return evidence
				}
			}
		}
	}
	return ""
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
