package capture

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Simulator serves a recorded transcript over WebSocket. Every client that
// connects receives the full transcript from the start, so front-end work
// and capture sessions get a deterministic backend. An empty transcript
// closes the connection cleanly straight away.
type Simulator struct {
	transcript []TranscriptEntry
	delay      time.Duration
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithDelay pauses between streamed events. Zero streams as fast as the
// client reads.
func WithDelay(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.delay = d }
}

// WithSimulatorLogger sets the simulator's logger. Defaults to slog.Default.
func WithSimulatorLogger(logger *slog.Logger) SimulatorOption {
	return func(s *Simulator) { s.logger = logger }
}

// NewSimulator creates a simulator for one transcript.
func NewSimulator(transcript []TranscriptEntry, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		transcript: transcript,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and streams the transcript. Implements
// http.Handler so tests can mount the simulator on an httptest.Server.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("simulator upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("simulator client connected",
		"remote", r.RemoteAddr, "events", len(s.transcript))

	for _, entry := range s.transcript {
		frame := WireEnvelope{
			Type:     entry.Type,
			RunToken: entry.RunToken,
			Payload:  entry.Payload,
		}
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Warn("simulator client dropped", "remote", r.RemoteAddr, "error", err)
			return
		}

		if s.delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.delay):
			}
		}
	}

	s.closeCleanly(conn)
}

// closeCleanly sends a normal-closure frame and waits briefly for the
// client's echo so the closing handshake completes.
func (s *Simulator) closeCleanly(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "transcript complete")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		return
	}
	conn.SetReadDeadline(deadline)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ListenAndServe runs the simulator on addr until the context is canceled.
func (s *Simulator) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info("simulator listening", "addr", addr, "events", len(s.transcript))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
