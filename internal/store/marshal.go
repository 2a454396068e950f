package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/goldenpath/internal/record"
)

// marshalPayload converts an event payload to canonical JSON TEXT for
// storage. Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalPayload(payload record.Object) (string, error) {
	data, err := record.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses canonical JSON TEXT to an Object.
// Uses record.ParseObject which handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalPayload(data string) (record.Object, error) {
	if data == "" || data == "{}" {
		return record.Object{}, nil
	}
	obj, err := record.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

// marshalFindings converts crash-time diagnostics to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so stored text matches what
// the canonical marshaller would produce for the same strings.
// Note: Detection is a plain struct (not a record.Value), so ordinary JSON
// encoding with struct-declared field order is deterministic enough here.
func marshalFindings(findings []record.Detection) (string, error) {
	if findings == nil {
		findings = []record.Detection{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(findings); err != nil {
		return "", fmt.Errorf("marshal findings: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalFindings parses JSON TEXT to crash-time diagnostics.
func unmarshalFindings(data string) ([]record.Detection, error) {
	if data == "" || data == "[]" {
		return []record.Detection{}, nil
	}
	var findings []record.Detection
	if err := json.Unmarshal([]byte(data), &findings); err != nil {
		return nil, fmt.Errorf("unmarshal findings: %w", err)
	}
	return findings, nil
}

// formatTime renders a launcher timestamp as RFC 3339 TEXT in UTC.
// Normalizing to UTC keeps stored rows byte-comparable across hosts.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses an RFC 3339 TEXT column back to time.Time.
func parseTime(data string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, data)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", data, err)
	}
	return t, nil
}
