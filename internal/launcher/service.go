package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/goldenpath/internal/config"
)

const (
	defaultReadyTimeout = 10 * time.Second
	readyPollInterval   = 100 * time.Millisecond
)

// runningService is one started service process. done receives the process
// exit error exactly once, after both output streams have drained.
type runningService struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan error
}

// Pid returns the process id, or 0 before the process exists.
func (r *runningService) Pid() int {
	if r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// startService launches the configured command with stdout and stderr
// streamed line by line through the logger.
func startService(ctx context.Context, cfg config.ServiceConfig, logger *slog.Logger, now func() time.Time) (*runningService, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = serviceEnv(cfg.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("service %s: stdout pipe: %w", cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("service %s: stderr pipe: %w", cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("service %s: start %s: %w", cfg.Name, cfg.Command, err)
	}

	run := &runningService{
		cmd:       cmd,
		startedAt: now(),
		done:      make(chan error, 1),
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		streamLines(logger, cfg.Name, "stdout", stdout)
	}()
	go func() {
		defer streams.Done()
		streamLines(logger, cfg.Name, "stderr", stderr)
	}()

	go func() {
		// Wait must not run before the pipes are drained; it closes them.
		streams.Wait()
		run.done <- cmd.Wait()
	}()

	logger.Info("service started", "service", cfg.Name, "pid", run.Pid(), "command", cfg.Command)

	return run, nil
}

// streamLines forwards each output line as a log record tagged with the
// service name and stream.
func streamLines(logger *slog.Logger, service, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		logger.Info("service output", "service", service, "stream", stream, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("service output truncated", "service", service, "stream", stream, "error", err)
	}
}

// serviceEnv merges the service overrides onto the parent environment.
// Overrides are appended in sorted key order so the command line stays
// reproducible.
func serviceEnv(overrides map[string]string) []string {
	env := os.Environ()

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, key+"="+overrides[key])
	}

	return env
}

// waitReady polls the service port until it accepts a TCP connection.
// Services without a port are considered ready as soon as they start.
func waitReady(ctx context.Context, cfg config.ServiceConfig) error {
	if cfg.Port <= 0 {
		return nil
	}

	timeout := cfg.ReadyTimeout.Std()
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port))
	deadline := time.Now().Add(timeout)

	for {
		conn, err := net.DialTimeout("tcp", addr, readyPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("service %s: port %d not ready after %s", cfg.Name, cfg.Port, timeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("service %s: readiness wait interrupted: %w", cfg.Name, ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// commandLine renders the command and arguments the way a shell would show
// them, for crash reports.
func commandLine(cfg config.ServiceConfig) string {
	if len(cfg.Args) == 0 {
		return cfg.Command
	}
	return cfg.Command + " " + strings.Join(cfg.Args, " ")
}
