package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/goldenpath/internal/record"
)

// TraceSnapshot is the canonical form of a scenario outcome used for golden
// comparison. Content hashes are deliberately excluded: the snapshot holds
// only what a scenario author can predict by hand, so golden files can be
// written or reviewed without running the hash pipeline.
type TraceSnapshot struct {
	ScenarioName string
	RunToken     string
	Trace        []TraceEntry
	Detections   []record.Detection
}

// canonicalObject builds the Value tree the snapshot serializes as.
func (s *TraceSnapshot) canonicalObject() record.Object {
	trace := make(record.Array, 0, len(s.Trace))
	for _, entry := range s.Trace {
		trace = append(trace, record.Object{
			"seq":     record.Int(entry.Seq),
			"type":    record.String(entry.Type),
			"payload": entry.Payload,
		})
	}

	detections := make(record.Array, 0, len(s.Detections))
	for _, d := range s.Detections {
		detections = append(detections, record.Object{
			"detector": record.String(d.Detector),
			"severity": record.String(string(d.Severity)),
			"seq":      record.Int(d.Seq),
		})
	}

	return record.Object{
		"scenario_name": record.String(s.ScenarioName),
		"run_token":     record.String(s.RunToken),
		"trace":         trace,
		"detections":    detections,
	}
}

// Canonical returns the snapshot's canonical JSON bytes.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	return record.MarshalCanonical(s.canonicalObject())
}

// RunWithGolden executes a scenario and compares its trace snapshot against
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-run result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		RunToken:     result.RunToken,
		Trace:        result.Trace,
		Detections:   result.Detections,
	}
	canonical, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, canonical)
	return nil
}
