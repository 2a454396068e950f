package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/goldenpath/internal/engine"
	"github.com/roach88/goldenpath/internal/record"
)

// Client captures live events from a backend WebSocket endpoint and feeds
// them to the engine. Envelopes that arrive without a run token are grouped
// under a connection-scoped token, so one connection is one run unless the
// backend says otherwise.
type Client struct {
	url    string
	token  string
	engine *engine.Engine
	tokens engine.RunTokenGenerator
	logger *slog.Logger

	maxRetries   int
	retryBase    time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration

	recorder *TranscriptWriter
	dialer   *websocket.Dialer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerToken sends the token as an Authorization header on dial.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithRecorder tees every ingested event to a transcript.
func WithRecorder(rec *TranscriptWriter) ClientOption {
	return func(c *Client) { c.recorder = rec }
}

// WithMaxRetries bounds reconnect attempts. Zero means fail on the first
// lost connection.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryBackoff sets the base reconnect delay. It doubles per
// consecutive failure, capped at 30s.
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.retryBase = d }
}

// WithClientLogger sets the client's logger. Defaults to slog.Default.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRunTokens sets the generator for connection-scoped run tokens.
func WithRunTokens(gen engine.RunTokenGenerator) ClientOption {
	return func(c *Client) { c.tokens = gen }
}

// WithKeepalive tunes the ping interval and read deadline.
func WithKeepalive(pingInterval, readTimeout time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = pingInterval
		c.readTimeout = readTimeout
	}
}

// NewClient creates a capture client for one backend endpoint.
func NewClient(eng *engine.Engine, url string, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		engine:       eng,
		tokens:       engine.UUIDv7Generator{},
		logger:       slog.Default(),
		maxRetries:   5,
		retryBase:    time.Second,
		pingInterval: 20 * time.Second,
		readTimeout:  60 * time.Second,
		dialer:       websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture dials the endpoint and ingests frames until the backend closes
// the stream cleanly, the context is canceled, or reconnect attempts are
// exhausted. Each (re)connection starts a fresh fallback run token.
func (c *Client) Capture(ctx context.Context) error {
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			retries++
			if retries > c.maxRetries {
				return fmt.Errorf("capture: connect %s: %w", c.url, err)
			}
			c.logger.Warn("capture dial failed, retrying",
				"url", c.url, "attempt", retries, "error", err)
			if err := sleepCtx(ctx, c.retryDelay(retries)); err != nil {
				return err
			}
			continue
		}
		retries = 0

		err = c.consume(ctx, conn)
		conn.Close()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			retries++
			if retries > c.maxRetries {
				return fmt.Errorf("capture: connection lost: %w", err)
			}
			c.logger.Warn("capture connection lost, reconnecting",
				"url", c.url, "attempt", retries, "error", err)
			if err := sleepCtx(ctx, c.retryDelay(retries)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

// consume reads frames until the connection errors or closes. Returns nil
// only on a clean close from the backend.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	runToken := c.tokens.Generate()
	c.logger.Info("capture connected", "url", c.url, "run_token", runToken)

	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("capture stream closed by backend", "run_token", runToken)
				return nil
			}
			return err
		}

		wire, err := DecodeEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "run_token", runToken, "error", err)
			if ferr := c.engine.IngestMalformed(runToken, err.Error()); ferr != nil {
				c.logger.Error("queue malformed-frame notice", "run_token", runToken, "error", ferr)
			}
			continue
		}

		env := engine.Envelope{
			RunToken: wire.RunToken,
			Type:     wire.Type,
			Payload:  wire.Payload,
			Origin:   record.OriginLive,
		}
		if env.RunToken == "" {
			env.RunToken = runToken
		}

		ev, err := c.engine.Ingest(env)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		if c.recorder != nil {
			if err := c.recorder.Write(EntryFromEvent(ev)); err != nil {
				return fmt.Errorf("record transcript: %w", err)
			}
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return err
		}
	}
}

// keepalive pings the backend on an interval and force-closes the
// connection when the context is canceled, which unblocks the read loop.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

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
