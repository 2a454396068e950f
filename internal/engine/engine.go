package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// Envelope is an unsealed event as it arrives from a pipe: capture
// connection, simulator transcript, or the emit command. Seal turns it into
// an EmittedEvent by stamping identity, sequence, and provenance.
type Envelope struct {
	RunToken string
	Type     string
	Payload  record.Object
	Origin   record.Origin

	// Seq is honored when positive (transcript replay preserves the original
	// clock); zero means stamp a fresh tick.
	Seq int64

	// ContractHash is honored when set (events re-ingested from an export
	// keep their original stamp, which is what lets the authenticity
	// detector notice drift); empty means stamp the engine's own.
	ContractHash string
}

// ProcessResult reports what processing one event did.
type ProcessResult struct {
	Event      record.EmittedEvent
	Duplicate  bool // Event ID already persisted; no side effects ran
	Dropped    bool // Run over quota; event was not persisted
	Detections []record.Detection
	Finalized  bool
	Status     string
}

// Engine validates event streams against one compiled contract.
//
// Ingestion is concurrent (capture connections, CLI); processing is
// single-writer: one Run loop drains the queue and is the only goroutine
// that touches detector state and the store's write path.
type Engine struct {
	store        *store.Store
	contract     *record.Contract
	contractHash string
	clock        *Clock
	queue        *eventQueue
	tokens       RunTokenGenerator
	logger       *slog.Logger
	expectOrigin record.Origin

	mu     sync.Mutex
	states map[string]*runState

	done chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTokenGenerator sets the run token generator. Defaults to UUIDv7.
func WithTokenGenerator(gen RunTokenGenerator) Option {
	return func(e *Engine) { e.tokens = gen }
}

// WithClock sets the logical clock, for tests that pin sequence numbers.
func WithClock(clock *Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithExpectedOrigin makes the authenticity detector flag events whose
// origin differs from the session's pipe. Set by capture (live) and the
// simulator (simulated); unset sessions accept any origin.
func WithExpectedOrigin(origin record.Origin) Option {
	return func(e *Engine) { e.expectOrigin = origin }
}

// New creates an engine bound to a store and a compiled contract.
func New(st *store.Store, contract *record.Contract, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if contract == nil {
		return nil, fmt.Errorf("engine: contract is required")
	}
	hash, err := contract.Hash()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		store:        st,
		contract:     contract,
		contractHash: hash,
		clock:        NewClock(),
		queue:        newEventQueue(),
		tokens:       UUIDv7Generator{},
		logger:       slog.Default(),
		states:       make(map[string]*runState),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Contract returns the engine's compiled contract.
func (e *Engine) Contract() *record.Contract {
	return e.contract
}

// ContractHash returns the active contract's content hash.
func (e *Engine) ContractHash() string {
	return e.contractHash
}

// NewRun generates a fresh run token.
func (e *Engine) NewRun() string {
	return e.tokens.Generate()
}

// Resume advances the logical clock past everything already persisted, so a
// restarted engine stamps sequence numbers that continue the log instead of
// colliding with it. Detector state is rebuilt lazily per run on first
// touch.
func (e *Engine) Resume(ctx context.Context) error {
	seq, err := e.store.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("engine resume: %w", err)
	}
	e.clock.Observe(seq)
	return nil
}

// Seal stamps an envelope into an EmittedEvent: run token (generated when
// absent), logical clock tick, content-addressed ID, and provenance.
// Pure apart from the clock; Seal never touches the store.
func (e *Engine) Seal(env Envelope) (record.EmittedEvent, error) {
	if env.Type == "" {
		return record.EmittedEvent{}, NewInvalidEventError(env.RunToken, "event type is required")
	}
	if env.Origin == "" {
		env.Origin = record.OriginInjected
	}
	if !record.ValidOrigins[env.Origin] {
		return record.EmittedEvent{}, NewInvalidEventError(env.RunToken, fmt.Sprintf("invalid origin %q", env.Origin))
	}
	if env.RunToken == "" {
		env.RunToken = e.tokens.Generate()
	}
	if env.Payload == nil {
		env.Payload = record.Object{}
	}

	var seq int64
	if env.Seq > 0 {
		e.clock.Observe(env.Seq)
		seq = env.Seq
	} else {
		seq = e.clock.Next()
	}

	id, err := record.EventID(env.RunToken, env.Type, env.Payload, seq)
	if err != nil {
		return record.EmittedEvent{}, NewInvalidEventError(env.RunToken, fmt.Sprintf("payload not canonicalizable: %v", err))
	}

	contractHash := env.ContractHash
	if contractHash == "" {
		contractHash = e.contractHash
	}

	return record.EmittedEvent{
		ID:            id,
		RunToken:      env.RunToken,
		Type:          env.Type,
		Payload:       env.Payload,
		Origin:        env.Origin,
		Seq:           seq,
		ContractHash:  contractHash,
		EngineVersion: record.EngineVersion,
		SchemaVersion: record.SchemaVersion,
	}, nil
}

// Ingest seals an envelope and queues it for the Run loop.
// Safe for concurrent use. Returns the sealed event so callers can hand the
// run token and event ID back to the user immediately.
func (e *Engine) Ingest(env Envelope) (record.EmittedEvent, error) {
	ev, err := e.Seal(env)
	if err != nil {
		return record.EmittedEvent{}, err
	}
	if !e.queue.Enqueue(ev) {
		return record.EmittedEvent{}, fmt.Errorf("engine: queue closed, event %s dropped", ev.ID)
	}
	return ev, nil
}

// Process runs one sealed event through the detector pipeline and persists
// everything it produces. Synchronous; the CLI's one-shot commands call it
// directly, the Run loop calls it for queued events.
//
// Persisted writes are structurally idempotent: processing the same event
// twice persists nothing new and runs no side effects the second time.
func (e *Engine) Process(ctx context.Context, ev record.EmittedEvent) (*ProcessResult, error) {
	if ev.ID == "" || ev.RunToken == "" || ev.Type == "" {
		return nil, NewInvalidEventError(ev.RunToken, "event is missing id, run token, or type")
	}

	s, err := e.stateFor(ctx, ev.RunToken)
	if err != nil {
		return nil, err
	}

	res := &ProcessResult{Event: ev, Status: s.status}

	if s.eventCount >= e.contract.MaxEventsPerRun {
		// A run sitting at its quota still re-ingests its own persisted
		// events as no-ops; only genuinely new events are over the limit.
		exists, err := e.store.HasEvent(ctx, ev.ID)
		if err != nil {
			return res, fmt.Errorf("probe event: %w", err)
		}
		if exists {
			res.Duplicate = true
			return res, nil
		}

		det := runawayDetection(ev.RunToken, e.contract.MaxEventsPerRun, ev.Seq)
		inserted, err := e.store.WriteDetection(ctx, det)
		if err != nil {
			return res, fmt.Errorf("write runaway detection: %w", err)
		}
		if inserted {
			s.detectionCount++
			s.criticalCount++
			if err := e.store.UpsertRun(ctx, s.run(ev.RunToken, e.contract.Name)); err != nil {
				return res, fmt.Errorf("upsert run: %w", err)
			}
		}
		res.Dropped = true
		res.Detections = []record.Detection{det}
		return res, &RunLimitError{RunToken: ev.RunToken, Events: s.eventCount, Limit: e.contract.MaxEventsPerRun}
	}

	inserted, err := e.store.WriteEvent(ctx, ev)
	if err != nil {
		return res, fmt.Errorf("write event: %w", err)
	}
	if !inserted {
		res.Duplicate = true
		return res, nil
	}

	detections := e.evaluate(s, ev)
	for _, det := range detections {
		ins, err := e.store.WriteDetection(ctx, det)
		if err != nil {
			return res, fmt.Errorf("write detection %s: %w", det.Detector, err)
		}
		if ins {
			s.detectionCount++
			if det.Severity == record.SeverityCritical {
				s.criticalCount++
			}
		}
	}
	res.Detections = detections

	// The first terminal event freezes the run status. Later events may add
	// detections but never flip a completed run to flagged.
	if s.finalized && s.status == record.RunStatusActive {
		if s.criticalCount == 0 {
			s.status = record.RunStatusCompleted
		} else {
			s.status = record.RunStatusFlagged
		}
	}
	res.Finalized = s.finalized
	res.Status = s.status

	if err := e.store.UpsertRun(ctx, s.run(ev.RunToken, e.contract.Name)); err != nil {
		return res, fmt.Errorf("upsert run: %w", err)
	}
	return res, nil
}

// IngestMalformed queues a malformed-frame notice for the Run loop. Capture
// uses this from its read loop; the notice shares the queue with events so
// run state stays single-writer.
func (e *Engine) IngestMalformed(runToken, detail string) error {
	if runToken == "" {
		return NewInvalidEventError(runToken, "run token is required")
	}
	if !e.queue.EnqueueNotice(runToken, detail) {
		return fmt.Errorf("engine: queue closed, malformed-frame notice for %s dropped", runToken)
	}
	return nil
}

// FlagMalformed records a schema detection for a wire frame that could not
// be decoded into an event. The frame never reaches Seal, so there is no
// event to attach evidence to. Idempotent per run. Synchronous; sessions
// with a Run loop go through IngestMalformed instead.
func (e *Engine) FlagMalformed(ctx context.Context, runToken, detail string) error {
	if runToken == "" {
		return NewInvalidEventError(runToken, "run token is required")
	}

	s, err := e.stateFor(ctx, runToken)
	if err != nil {
		return err
	}

	det := malformedDetection(runToken, detail)
	inserted, err := e.store.WriteDetection(ctx, det)
	if err != nil {
		return fmt.Errorf("write malformed-frame detection: %w", err)
	}
	if inserted {
		s.detectionCount++
		s.criticalCount++
		if err := e.store.UpsertRun(ctx, s.run(runToken, e.contract.Name)); err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
	}
	return nil
}

// stateFor returns the detector state for a run, folding it from the
// persisted log on first touch.
func (e *Engine) stateFor(ctx context.Context, runToken string) (*runState, error) {
	e.mu.Lock()
	s, ok := e.states[runToken]
	e.mu.Unlock()
	if ok {
		return s, nil
	}

	rs, err := e.store.GetRunState(ctx, runToken)
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}
	s = e.foldRunState(rs)

	e.mu.Lock()
	e.states[runToken] = s
	e.mu.Unlock()
	return s, nil
}

// Run drains the queue until the context is canceled or Stop closes the
// queue and it empties. Processing errors are logged and the loop continues;
// a malformed run must never stall every other run sharing the session.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	for {
		item, ok := e.queue.TryDequeue()
		if !ok {
			if e.queue.Closed() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.queue.Wait():
				continue
			}
		}

		if item.notice != nil {
			if err := e.FlagMalformed(ctx, item.notice.runToken, item.notice.detail); err != nil {
				e.logger.Error("malformed-frame flag failed",
					"run_token", item.notice.runToken,
					"error", err)
			}
			continue
		}

		if _, err := e.Process(ctx, item.event); err != nil {
			e.logEventError(item.event, err)
		}
	}
}

// Stop closes the queue. The Run loop drains what is already queued and then
// returns; Done reports when it has.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Done returns a channel closed when the Run loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// QueueLen reports the number of events waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) logEventError(ev record.EmittedEvent, err error) {
	if IsRunLimitError(err) {
		e.logger.Warn("run over event quota, dropping",
			"run_token", ev.RunToken,
			"type", ev.Type,
			"seq", ev.Seq)
		return
	}
	e.logger.Error("event processing failed",
		"run_token", ev.RunToken,
		"type", ev.Type,
		"seq", ev.Seq,
		"error", err)
}
