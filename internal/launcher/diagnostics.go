package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/roach88/goldenpath/internal/record"
)

// Diagnostic detector names. Findings carry them the way engine detections
// carry rule names, so reports stay queryable by detector.
const (
	DetectorPortConflict   = "system/port_conflict"
	DetectorZombieProcess  = "system/zombie_process"
	DetectorMemoryPressure = "system/memory_pressure"
)

// Diagnostics inspects the host around a crash: who holds the service port,
// whether zombie processes linger, and whether memory is under pressure.
//
// The gopsutil calls are function fields so tests can substitute fixed
// system states.
type Diagnostics struct {
	memoryThreshold float64
	logger          *slog.Logger

	connections   func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
	processes     func(ctx context.Context) ([]*process.Process, error)
	processStatus func(ctx context.Context, proc *process.Process) ([]string, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	processName   func(ctx context.Context, pid int32) (string, error)
}

// NewDiagnostics builds a Diagnostics reading live system state.
// memoryThreshold is the used-memory percentage above which memory pressure
// is reported.
func NewDiagnostics(memoryThreshold float64, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}

	return &Diagnostics{
		memoryThreshold: memoryThreshold,
		logger:          logger,
		connections:     psnet.ConnectionsWithContext,
		processes:       process.ProcessesWithContext,
		processStatus: func(ctx context.Context, proc *process.Process) ([]string, error) {
			return proc.StatusWithContext(ctx)
		},
		virtualMemory: mem.VirtualMemoryWithContext,
		processName: func(ctx context.Context, pid int32) (string, error) {
			proc, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				return "", err
			}
			return proc.NameWithContext(ctx)
		},
	}
}

// Run executes every check and returns the combined findings. port <= 0
// skips the port-conflict check. A check that cannot read system state logs
// a warning and contributes nothing; diagnostics degrade, they do not fail.
func (d *Diagnostics) Run(ctx context.Context, port int) []record.Detection {
	findings := []record.Detection{}

	if port > 0 {
		findings = append(findings, d.CheckPort(ctx, port)...)
	}
	findings = append(findings, d.CheckZombies(ctx)...)
	findings = append(findings, d.CheckMemory(ctx)...)

	return findings
}

// CheckPort reports processes listening on the given TCP port.
func (d *Diagnostics) CheckPort(ctx context.Context, port int) []record.Detection {
	conns, err := d.connections(ctx, "tcp")
	if err != nil {
		d.logger.Warn("port diagnostic unavailable", "port", port, "error", err)
		return nil
	}

	var findings []record.Detection
	for _, conn := range conns {
		if conn.Status != "LISTEN" || int(conn.Laddr.Port) != port {
			continue
		}

		owner := "unknown"
		if conn.Pid > 0 {
			name, err := d.processName(ctx, conn.Pid)
			if err != nil {
				d.logger.Warn("port owner lookup failed", "pid", conn.Pid, "error", err)
			} else {
				owner = name
			}
		}

		findings = append(findings, record.Detection{
			Detector:    DetectorPortConflict,
			Category:    record.CategoryPort,
			Severity:    record.SeverityCritical,
			Title:       fmt.Sprintf("port %d already in use", port),
			Description: fmt.Sprintf("process %q (pid %d) is listening on port %d", owner, conn.Pid, port),
			Evidence:    []string{"pid:" + strconv.Itoa(int(conn.Pid))},
		})
	}

	return findings
}

// CheckZombies reports defunct processes awaiting reaping.
func (d *Diagnostics) CheckZombies(ctx context.Context) []record.Detection {
	procs, err := d.processes(ctx)
	if err != nil {
		d.logger.Warn("zombie diagnostic unavailable", "error", err)
		return nil
	}

	var findings []record.Detection
	for _, proc := range procs {
		statuses, err := d.processStatus(ctx, proc)
		if err != nil {
			// Processes exit between listing and inspection; not worth a log line.
			continue
		}
		if !slices.Contains(statuses, process.Zombie) {
			continue
		}

		name, err := d.processName(ctx, proc.Pid)
		if err != nil {
			name = "unknown"
		}

		findings = append(findings, record.Detection{
			Detector:    DetectorZombieProcess,
			Category:    record.CategoryZombie,
			Severity:    record.SeverityWarning,
			Title:       fmt.Sprintf("zombie process %d", proc.Pid),
			Description: fmt.Sprintf("process %q (pid %d) is defunct and has not been reaped", name, proc.Pid),
			Evidence:    []string{"pid:" + strconv.Itoa(int(proc.Pid))},
		})
	}

	return findings
}

// CheckMemory reports when used memory exceeds the configured threshold.
func (d *Diagnostics) CheckMemory(ctx context.Context) []record.Detection {
	stat, err := d.virtualMemory(ctx)
	if err != nil {
		d.logger.Warn("memory diagnostic unavailable", "error", err)
		return nil
	}

	if stat.UsedPercent < d.memoryThreshold {
		return nil
	}

	return []record.Detection{{
		Detector:    DetectorMemoryPressure,
		Category:    record.CategoryMemory,
		Severity:    record.SeverityWarning,
		Title:       "memory pressure",
		Description: fmt.Sprintf("memory %.1f%% used, threshold %.1f%%", stat.UsedPercent, d.memoryThreshold),
		Evidence:    []string{fmt.Sprintf("used_percent:%.1f", stat.UsedPercent)},
	}}
}
