package launcher

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goldenpath/internal/config"
)

// syncBuffer lets the stream goroutines and the test share a log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStartService_StreamsOutputAndExit(t *testing.T) {
	sink := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(sink, nil))

	cfg := config.ServiceConfig{
		Name:    "echoer",
		Command: "sh",
		Args:    []string{"-c", "echo hello out; echo hello err >&2; exit 0"},
	}

	run, err := startService(context.Background(), cfg, logger, time.Now)
	require.NoError(t, err)

	require.NoError(t, <-run.done)

	logged := sink.String()
	assert.Contains(t, logged, "hello out")
	assert.Contains(t, logged, "hello err")
	assert.Contains(t, logged, "stream=stdout")
	assert.Contains(t, logged, "stream=stderr")
	assert.Contains(t, logged, "service=echoer")
}

func TestStartService_ReportsExitError(t *testing.T) {
	cfg := config.ServiceConfig{
		Name:    "failer",
		Command: "sh",
		Args:    []string{"-c", "exit 7"},
	}

	run, err := startService(context.Background(), cfg, discardLogger(), time.Now)
	require.NoError(t, err)

	exitErr := <-run.done
	require.Error(t, exitErr)

	code, signal := classifyExit(exitErr)
	assert.Equal(t, 7, code)
	assert.Empty(t, signal)
	assert.Positive(t, run.Pid())
}

func TestStartService_MissingCommand(t *testing.T) {
	cfg := config.ServiceConfig{
		Name:    "ghost",
		Command: "/no/such/binary",
	}

	_, err := startService(context.Background(), cfg, discardLogger(), time.Now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "service ghost")
}

func TestStartService_AppliesEnvOverrides(t *testing.T) {
	sink := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(sink, nil))

	cfg := config.ServiceConfig{
		Name:    "env-probe",
		Command: "sh",
		Args:    []string{"-c", "echo marker=$GOLDENPATH_MARKER"},
		Env:     map[string]string{"GOLDENPATH_MARKER": "present"},
	}

	run, err := startService(context.Background(), cfg, logger, time.Now)
	require.NoError(t, err)
	require.NoError(t, <-run.done)

	assert.Contains(t, sink.String(), "marker=present")
}

func TestWaitReady_NoPortIsImmediate(t *testing.T) {
	require.NoError(t, waitReady(context.Background(), config.ServiceConfig{Name: "portless"}))
}

func TestWaitReady_PortAccepts(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	cfg := config.ServiceConfig{
		Name:         "listening",
		Port:         port,
		ReadyTimeout: config.Duration(2 * time.Second),
	}

	require.NoError(t, waitReady(context.Background(), cfg))
}

func TestWaitReady_TimesOut(t *testing.T) {
	cfg := config.ServiceConfig{
		Name:         "deaf",
		Port:         1, // nothing listens on tcp/1
		ReadyTimeout: config.Duration(200 * time.Millisecond),
	}

	err := waitReady(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "redis-server", commandLine(config.ServiceConfig{Command: "redis-server"}))
	assert.Equal(t, "sh -c exit", commandLine(config.ServiceConfig{Command: "sh", Args: []string{"-c", "exit"}}))
}
