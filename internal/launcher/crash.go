package launcher

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/roach88/goldenpath/internal/record"
)

// Crash categories key learned recovery policies. The system/* values match
// the diagnostic finding categories; the crash/* values classify plain
// process exits.
const (
	CategoryCrashExit   = "crash/exit"
	CategoryCrashSignal = "crash/signal"
)

// classifyExit extracts the exit code and, when the process died to a
// signal, the signal name. A nil error means a clean exit.
func classifyExit(err error) (exitCode int, signal string) {
	if err == nil {
		return 0, ""
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, ""
	}

	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -1, status.Signal().String()
	}

	return exitErr.ExitCode(), ""
}

// classifyCrash folds the exit shape and the diagnostic findings into a
// policy category. Findings win over the bare exit: a crash with a port
// conflict is a port problem whatever the exit code said.
func classifyCrash(report record.CrashReport) string {
	for _, category := range []string{record.CategoryPort, record.CategoryMemory, record.CategoryZombie} {
		for _, finding := range report.Findings {
			if finding.Category == category {
				return category
			}
		}
	}

	if report.Signal != "" {
		return CategoryCrashSignal
	}

	return CategoryCrashExit
}

// defaultAction is the recovery fallback when no learned policy for the
// category has ever succeeded.
func defaultAction(category string) string {
	switch category {
	case record.CategoryPort:
		return record.ActionFreePort
	case record.CategoryMemory:
		return record.ActionWaitMemory
	case record.CategoryZombie:
		return record.ActionKillProcess
	case CategoryCrashSignal, CategoryCrashExit:
		return record.ActionRestart
	default:
		return record.ActionNone
	}
}
