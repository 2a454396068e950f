package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/roach88/goldenpath/internal/config"
	"github.com/roach88/goldenpath/internal/record"
)

// destructiveActions kill other processes and therefore need an explicit
// grant outside the development environment.
var destructiveActions = map[string]bool{
	record.ActionKillProcess: true,
	record.ActionFreePort:    true,
}

// Outcome describes what a recovery attempt did. DryRun outcomes describe
// what would have happened; they never touch the system.
type Outcome struct {
	Succeeded bool
	DryRun    bool
	Note      string
}

// Recovery applies recovery actions under environment gates: test runs
// everything as a dry run, production never executes, and destructive
// actions outside development need the allow_destructive opt-in.
type Recovery struct {
	env              config.Environment
	allowDestructive bool
	memoryThreshold  float64
	logger           *slog.Logger

	// waitBudget and waitPoll bound the wait_memory action.
	waitBudget time.Duration
	waitPoll   time.Duration

	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	connections   func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
	terminate     func(ctx context.Context, pid int32) error
}

// NewRecovery builds a Recovery acting on the live system.
func NewRecovery(env config.Environment, allowDestructive bool, memoryThreshold float64, logger *slog.Logger) *Recovery {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recovery{
		env:              env,
		allowDestructive: allowDestructive,
		memoryThreshold:  memoryThreshold,
		logger:           logger,
		waitBudget:       10 * time.Second,
		waitPoll:         500 * time.Millisecond,
		virtualMemory:    mem.VirtualMemoryWithContext,
		connections:      psnet.ConnectionsWithContext,
		terminate: func(ctx context.Context, pid int32) error {
			proc, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				return err
			}
			if err := proc.TerminateWithContext(ctx); err != nil {
				return proc.KillWithContext(ctx)
			}
			return nil
		},
	}
}

// Apply runs one recovery action against its target. Target meaning depends
// on the action: a pid for kill_process, a port for free_port, empty
// otherwise. Apply never returns an error; failures are part of the Outcome
// so every attempt can be recorded.
func (r *Recovery) Apply(ctx context.Context, action, target string) Outcome {
	if reason, blocked := r.blocked(action); blocked {
		r.logger.Info("recovery dry run", "action", action, "target", target, "reason", reason)
		return Outcome{Succeeded: false, DryRun: true, Note: reason}
	}

	switch action {
	case record.ActionNone:
		return Outcome{Succeeded: true, Note: "no action taken"}
	case record.ActionRestart:
		return Outcome{Succeeded: true, Note: "service restart scheduled"}
	case record.ActionKillProcess:
		return r.killProcess(ctx, target)
	case record.ActionFreePort:
		return r.freePort(ctx, target)
	case record.ActionWaitMemory:
		return r.waitMemory(ctx)
	default:
		return Outcome{Succeeded: false, Note: fmt.Sprintf("unknown recovery action %q", action)}
	}
}

// blocked decides whether the environment gates force a dry run.
func (r *Recovery) blocked(action string) (string, bool) {
	switch r.env {
	case config.EnvTest:
		return "test environment simulates recovery", true
	case config.EnvProduction:
		return "production environment disables recovery execution", true
	}

	if destructiveActions[action] && r.env != config.EnvDevelopment && !r.allowDestructive {
		return "destructive action requires development environment or allow_destructive", true
	}

	return "", false
}

func (r *Recovery) killProcess(ctx context.Context, target string) Outcome {
	pid, err := strconv.ParseInt(strings.TrimPrefix(target, "pid:"), 10, 32)
	if err != nil {
		return Outcome{Note: fmt.Sprintf("invalid pid target %q", target)}
	}

	if err := r.terminate(ctx, int32(pid)); err != nil {
		return Outcome{Note: fmt.Sprintf("terminate pid %d: %v", pid, err)}
	}

	r.logger.Info("terminated process", "pid", pid)
	return Outcome{Succeeded: true, Note: fmt.Sprintf("terminated pid %d", pid)}
}

func (r *Recovery) freePort(ctx context.Context, target string) Outcome {
	port, err := strconv.Atoi(target)
	if err != nil {
		return Outcome{Note: fmt.Sprintf("invalid port target %q", target)}
	}

	conns, err := r.connections(ctx, "tcp")
	if err != nil {
		return Outcome{Note: fmt.Sprintf("list connections: %v", err)}
	}

	for _, conn := range conns {
		if conn.Status != "LISTEN" || int(conn.Laddr.Port) != port || conn.Pid <= 0 {
			continue
		}
		if err := r.terminate(ctx, conn.Pid); err != nil {
			return Outcome{Note: fmt.Sprintf("terminate pid %d holding port %d: %v", conn.Pid, port, err)}
		}
		r.logger.Info("freed port", "port", port, "pid", conn.Pid)
		return Outcome{Succeeded: true, Note: fmt.Sprintf("terminated pid %d holding port %d", conn.Pid, port)}
	}

	return Outcome{Succeeded: true, Note: fmt.Sprintf("port %d already free", port)}
}

// waitMemory polls until used memory drops below the threshold or the wait
// budget runs out.
func (r *Recovery) waitMemory(ctx context.Context) Outcome {
	deadline := time.Now().Add(r.waitBudget)

	for {
		stat, err := r.virtualMemory(ctx)
		if err != nil {
			return Outcome{Note: fmt.Sprintf("read memory: %v", err)}
		}
		if stat.UsedPercent < r.memoryThreshold {
			return Outcome{Succeeded: true, Note: fmt.Sprintf("memory settled at %.1f%%", stat.UsedPercent)}
		}
		if time.Now().After(deadline) {
			return Outcome{Note: fmt.Sprintf("memory still at %.1f%% after %s", stat.UsedPercent, r.waitBudget)}
		}

		select {
		case <-ctx.Done():
			return Outcome{Note: fmt.Sprintf("wait interrupted: %v", ctx.Err())}
		case <-time.After(r.waitPoll):
		}
	}
}
