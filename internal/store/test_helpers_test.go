package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/goldenpath/internal/record"
)

// createTestStore creates a new on-disk store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates a test event with minimal required fields.
func createTestEvent(id, runToken, eventType string, seq int64) record.EmittedEvent {
	return record.EmittedEvent{
		ID:            id,
		RunToken:      runToken,
		Type:          eventType,
		Payload:       record.Object{},
		Origin:        record.OriginLive,
		Seq:           seq,
		ContractHash:  "test-hash",
		EngineVersion: "0.1.0",
		SchemaVersion: "1",
	}
}

// createTestDetection creates a test detection with minimal required fields.
func createTestDetection(id, runToken, detector string, evidence []string, seq int64) record.Detection {
	return record.Detection{
		ID:          id,
		RunToken:    runToken,
		Detector:    detector,
		Category:    record.CategorySequence,
		Severity:    record.SeverityWarning,
		Title:       "test detection",
		Description: "",
		Evidence:    evidence,
		Seq:         seq,
	}
}
