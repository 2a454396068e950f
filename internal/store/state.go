package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/goldenpath/internal/record"
)

// RunState is the full recorded state of a run, used to resume the engine
// after a restart and by the trace command.
type RunState struct {
	RunToken      string
	Events        []record.EmittedEvent
	Detections    []record.Detection
	LastSeq       int64
	LastEventType string // Type of the highest-seq event, "" for empty runs
	Status        string // Run bookkeeping status; "active" if no row exists
	IsComplete    bool   // True once the run reached a terminal event
}

// GetRunState retrieves the complete recorded state of a run.
// Returns all events and detections plus bookkeeping, so the engine can
// refold detector state from the log and continue at the right seq.
func (s *Store) GetRunState(ctx context.Context, runToken string) (RunState, error) {
	state := RunState{
		RunToken: runToken,
		Status:   record.RunStatusActive,
	}

	events, err := s.readRunEvents(ctx, runToken)
	if err != nil {
		return state, fmt.Errorf("get run state: %w", err)
	}
	state.Events = events

	detections, err := s.readRunDetections(ctx, runToken)
	if err != nil {
		return state, fmt.Errorf("get run state: %w", err)
	}
	state.Detections = detections

	for _, ev := range events {
		if ev.Seq >= state.LastSeq {
			state.LastSeq = ev.Seq
			state.LastEventType = ev.Type
		}
	}
	for _, det := range detections {
		if det.Seq > state.LastSeq {
			state.LastSeq = det.Seq
		}
	}

	// Bookkeeping row is optional: a run ingested by an engine that crashed
	// before its first UpsertRun simply counts as active.
	run, err := s.GetRun(ctx, runToken)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// keep defaults
	case err != nil:
		return state, fmt.Errorf("get run state: %w", err)
	default:
		state.Status = run.Status
		state.IsComplete = run.Status != record.RunStatusActive
	}

	return state, nil
}

// FindIncompleteRuns returns the state of every run that has not reached a
// terminal event. Covers both runs marked active in bookkeeping and runs
// that have events but no bookkeeping row at all (engine crashed before its
// first upsert).
//
// Used on startup to decide which runs the engine must resume watching.
func (s *Store) FindIncompleteRuns(ctx context.Context) ([]RunState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT run_token FROM (
			-- Runs bookkeeping says are still in flight
			SELECT run_token FROM runs WHERE status = 'active'

			UNION

			-- Runs with events but no bookkeeping row
			SELECT e.run_token
			FROM events e
			LEFT JOIN runs r ON e.run_token = r.run_token
			WHERE r.run_token IS NULL
		)
		ORDER BY run_token
	`)
	if err != nil {
		return nil, fmt.Errorf("find incomplete runs: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan run token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run tokens: %w", err)
	}

	var states []RunState
	for _, token := range tokens {
		state, err := s.GetRunState(ctx, token)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	return states, nil
}

// ReplayRun returns a run's events and detections as one merged,
// seq-ordered timeline. Events sort before detections at the same seq, so
// a finding always appears after the evidence that triggered it.
//
// Replaying the same database always yields the identical timeline.
func (s *Store) ReplayRun(ctx context.Context, runToken string) ([]TimelineEntry, error) {
	state, err := s.GetRunState(ctx, runToken)
	if err != nil {
		return nil, err
	}

	var entries []TimelineEntry

	for i := range state.Events {
		entries = append(entries, TimelineEntry{
			Kind:  EntryEvent,
			Seq:   state.Events[i].Seq,
			ID:    state.Events[i].ID,
			Event: &state.Events[i],
		})
	}

	for i := range state.Detections {
		entries = append(entries, TimelineEntry{
			Kind:      EntryDetection,
			Seq:       state.Detections[i].Seq,
			ID:        state.Detections[i].ID,
			Detection: &state.Detections[i],
		})
	}

	sortTimeline(entries)

	return entries, nil
}

// TimelineEntry is a single entry in a run's merged timeline.
type TimelineEntry struct {
	Kind      EntryKind
	Seq       int64
	ID        string
	Event     *record.EmittedEvent
	Detection *record.Detection
}

// EntryKind distinguishes events from detections in a timeline.
type EntryKind int

const (
	EntryEvent EntryKind = iota
	EntryDetection
)

// String returns the entry kind as a string.
func (k EntryKind) String() string {
	switch k {
	case EntryEvent:
		return "event"
	case EntryDetection:
		return "detection"
	default:
		return "unknown"
	}
}

// sortTimeline sorts entries by seq, with events before detections for equal
// seq, so the timeline is deterministic.
func sortTimeline(entries []TimelineEntry) {
	// Simple insertion sort (timelines are typically small)
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && entryLess(entries[j], entries[j-1]) {
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
}

// entryLess compares two timeline entries for ordering.
// Orders by seq first, then by kind (events before detections), then by ID.
func entryLess(a, b TimelineEntry) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind // Event (0) before Detection (1)
	}
	return a.ID < b.ID
}

// GetLastSeq returns the highest seq number used in the store.
// Used for recovery to resume the logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64

	// Check events
	var eventSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM events
	`).Scan(&eventSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from events: %w", err)
	}
	maxSeq = eventSeq

	// Check detections
	var detSeq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM detections
	`).Scan(&detSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from detections: %w", err)
	}
	if detSeq > maxSeq {
		maxSeq = detSeq
	}

	return maxSeq, nil
}

// GetLastSeqForRun returns the highest seq number used in a specific run.
// Used for run-scoped recovery.
func (s *Store) GetLastSeqForRun(ctx context.Context, runToken string) (int64, error) {
	var maxSeq int64

	// Check events
	var eventSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_token = ?
	`, runToken).Scan(&eventSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from events: %w", err)
	}
	maxSeq = eventSeq

	// Check detections
	var detSeq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM detections WHERE run_token = ?
	`, runToken).Scan(&detSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from detections: %w", err)
	}
	if detSeq > maxSeq {
		maxSeq = detSeq
	}

	return maxSeq, nil
}

// ListRunTokens returns all distinct run tokens in the database.
// Used by replay and report commands to enumerate runs.
// Results ordered alphabetically by run token.
func (s *Store) ListRunTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT run_token FROM events
		ORDER BY run_token
	`)
	if err != nil {
		return nil, fmt.Errorf("list run tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan run token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run tokens: %w", err)
	}

	if tokens == nil {
		tokens = []string{}
	}

	return tokens, nil
}
