package engine

import (
	"context"
	"fmt"
)

// ReplayReport summarizes a re-ingestion pass over a run's persisted log.
//
// Because events and detections are content-addressed and every write is
// insert-or-ignore, replaying an unchanged log is a structural no-op: every
// event comes back as a duplicate and NewDetections stays zero. A nonzero
// NewDetections means the contract or engine changed since the log was
// recorded.
type ReplayReport struct {
	RunToken      string `json:"run_token"`
	Events        int    `json:"events"`
	Duplicates    int    `json:"duplicates"`
	Dropped       int    `json:"dropped"`
	NewDetections int64  `json:"new_detections"`
}

// Replay re-processes every persisted event of a run through the full
// pipeline, in seq order, and reports what changed.
func (e *Engine) Replay(ctx context.Context, runToken string) (*ReplayReport, error) {
	rs, err := e.store.GetRunState(ctx, runToken)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	s, err := e.stateFor(ctx, runToken)
	if err != nil {
		return nil, err
	}
	before := s.detectionCount

	report := &ReplayReport{RunToken: runToken, Events: len(rs.Events)}
	for _, ev := range rs.Events {
		res, err := e.Process(ctx, ev)
		if err != nil && !IsRunLimitError(err) {
			return report, err
		}
		if res.Duplicate {
			report.Duplicates++
		}
		if res.Dropped {
			report.Dropped++
		}
	}
	report.NewDetections = s.detectionCount - before
	return report, nil
}
