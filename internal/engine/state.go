package engine

import (
	"sort"
	"strings"

	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// runState is the in-memory detector state for one run.
//
// All fields are derived from the persisted event log: folding the stored
// events through the detector pipeline rebuilds an identical runState, which
// is how the engine resumes after a restart.
//
// Not thread-safe. Only the single-writer Process path touches it.
type runState struct {
	eventCount     int64
	detectionCount int64
	criticalCount  int64

	lastSeq     int64
	lastType    string // Type of the last declared event, "" before the first
	lastEventID string

	finalized    bool
	terminalType string
	status       string // Frozen at the first terminal event

	origin record.Origin // Origin of the first event

	// Loop detection: (type, payload hash) -> repeat count and the event ID
	// of the first occurrence, cited as evidence when the quota trips.
	repeats     map[string]int64
	repeatFirst map[string]string

	// Pairing: (open type, close type, key value) -> stack of open event
	// IDs. closed remembers consumed keys so a second close is reported as
	// a duplicate rather than an unmatched response.
	openPairs map[string][]string
	closed    map[string]bool
}

func newRunState() *runState {
	return &runState{
		status:      record.RunStatusActive,
		repeats:     make(map[string]int64),
		repeatFirst: make(map[string]string),
		openPairs:   make(map[string][]string),
		closed:      make(map[string]bool),
	}
}

// foldRunState rebuilds detector state from the persisted log.
//
// Events are re-evaluated through the same pipeline that produced them; the
// recomputed detections are discarded because the store already holds them
// (same content-addressed IDs). Counters come from the store, which is
// authoritative for what was actually persisted.
func (e *Engine) foldRunState(rs store.RunState) *runState {
	s := newRunState()
	for i := range rs.Events {
		e.evaluate(s, rs.Events[i])
	}

	s.detectionCount = int64(len(rs.Detections))
	s.criticalCount = 0
	for _, d := range rs.Detections {
		if d.Severity == record.SeverityCritical {
			s.criticalCount++
		}
	}
	if rs.Status != "" {
		s.status = rs.Status
	}
	return s
}

// noteEvent folds one event into the state after detection.
// Declared-ness matters: undeclared types never advance lastType, so the
// sequence detector keeps judging transitions against the contract's own
// vocabulary.
func (s *runState) noteEvent(ev record.EmittedEvent, spec *record.EventSpec, declared bool) {
	if s.eventCount == 0 {
		s.origin = ev.Origin
	}
	s.eventCount++
	s.lastSeq = ev.Seq

	if !declared {
		return
	}

	s.lastType = ev.Type
	s.lastEventID = ev.ID

	if spec.Terminal && !s.finalized {
		s.finalized = true
		s.terminalType = ev.Type
	}
}

// run builds the bookkeeping row for this state.
func (s *runState) run(runToken, contractName string) record.Run {
	return record.Run{
		RunToken:       runToken,
		Contract:       contractName,
		Status:         s.status,
		TerminalType:   s.terminalType,
		EventCount:     s.eventCount,
		DetectionCount: s.detectionCount,
		LastSeq:        s.lastSeq,
		Origin:         s.origin,
	}
}

// pairKey builds the map key for one pairing group and key value.
// openType and closeType are ordered (open first) so the open and close
// sides of a pair land on the same entry.
func pairKey(openType, closeType, keyValue string) string {
	return openType + "\x00" + closeType + "\x00" + keyValue
}

// openKeys returns the open-pair keys in deterministic order.
// Used when a terminal event reports unclosed pairs.
func (s *runState) openKeys() []string {
	keys := make([]string, 0, len(s.openPairs))
	for k := range s.openPairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitPairKey reverses pairKey for diagnostics.
func splitPairKey(k string) (openType, closeType, keyValue string) {
	parts := strings.SplitN(k, "\x00", 3)
	if len(parts) != 3 {
		return k, "", ""
	}
	return parts[0], parts[1], parts[2]
}
