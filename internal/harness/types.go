package harness

import "github.com/roach88/goldenpath/internal/record"

// DefaultRunToken is used when a scenario doesn't pin its own token.
// A fixed default keeps golden transcripts stable across runs.
const DefaultRunToken = "test-run-default"

// TraceEntry is one persisted event in the scenario timeline.
type TraceEntry struct {
	Seq     int64         `json:"seq"`
	Type    string        `json:"type"`
	Payload record.Object `json:"payload"`
	EventID string        `json:"event_id"`
}

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// RunToken identifies the run the scenario produced.
	RunToken string `json:"run_token"`

	// Trace lists the persisted events in seq order. Dropped events (over
	// quota) never appear here.
	Trace []TraceEntry `json:"trace"`

	// Detections lists every distinct detection the run produced, in the
	// order the engine reported them.
	Detections []record.Detection `json:"detections"`

	// Status is the run's final bookkeeping status, "" when no events
	// were persisted.
	Status string `json:"status,omitempty"`

	// Errors lists expect and assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult(runToken string) *Result {
	return &Result{
		Pass:       true,
		RunToken:   runToken,
		Trace:      []TraceEntry{},
		Detections: []record.Detection{},
		Errors:     []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// addTrace appends a persisted event to the timeline.
func (r *Result) addTrace(ev record.EmittedEvent) {
	r.Trace = append(r.Trace, TraceEntry{
		Seq:     ev.Seq,
		Type:    ev.Type,
		Payload: ev.Payload,
		EventID: ev.ID,
	})
}

// addDetections appends detections, skipping IDs already recorded. The
// runaway detection comes back for every over-quota event but counts once.
func (r *Result) addDetections(detections []record.Detection) {
	seen := make(map[string]bool, len(r.Detections))
	for _, d := range r.Detections {
		seen[d.ID] = true
	}
	for _, d := range detections {
		if seen[d.ID] {
			continue
		}
		r.Detections = append(r.Detections, d)
		seen[d.ID] = true
	}
}
