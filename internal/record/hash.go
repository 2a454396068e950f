package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration.
const (
	DomainEvent     = "goldenpath/event/v1"
	DomainDetection = "goldenpath/detection/v1"
	DomainPayload   = "goldenpath/payload/v1"
	DomainContract  = "goldenpath/contract/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID for an emitted event.
// The ID is stable across restarts and replays given the same inputs, which
// is what makes re-ingesting a transcript a no-op.
//
// Origin is intentionally EXCLUDED: the ID answers "what was emitted, when in
// the run" (logical identity), not "which pipe delivered it". Origin is still
// stored on the event for authenticity checks.
func EventID(runToken, eventType string, payload Object, seq int64) (string, error) {
	obj := Object{
		"run_token": String(runToken),
		"type":      String(eventType),
		"payload":   payload,
		"seq":       Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// DetectionID computes the content-addressed ID for a detection.
// Re-validating the same stream yields the same detection IDs, so detection
// writes stay idempotent under replay.
func DetectionID(runToken, detector string, evidence []string, seq int64) (string, error) {
	ev := make(Array, len(evidence))
	for i, id := range evidence {
		ev[i] = String(id)
	}
	obj := Object{
		"run_token": String(runToken),
		"detector":  String(detector),
		"evidence":  ev,
		"seq":       Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DetectionID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainDetection, canonical), nil
}

// RunDetectionID computes the ID for a run-scoped singleton detection.
// It hashes without seq or evidence so a run gains at most one detection per
// detector (the runaway guard relies on this).
func RunDetectionID(runToken, detector string) string {
	obj := Object{
		"run_token": String(runToken),
		"detector":  String(detector),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// An Object of two Strings cannot fail canonical marshaling.
		panic(err)
	}

	return hashWithDomain(DomainDetection, canonical)
}

// PayloadHash computes the hash of an event payload alone.
// The loop detector keys repeat counting on (type, payload hash).
func PayloadHash(payload Object) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainPayload, canonical), nil
}

// ContractHash computes the hash of a compiled contract's canonical form.
// Events are stamped with it so drift between the capturing engine's contract
// and a verifying engine's contract is detectable.
func ContractHash(canonical []byte) string {
	return hashWithDomain(DomainContract, canonical)
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(runToken, eventType string, payload Object, seq int64) string {
	id, err := EventID(runToken, eventType, payload, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustDetectionID is like DetectionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDetectionID(runToken, detector string, evidence []string, seq int64) string {
	id, err := DetectionID(runToken, detector, evidence, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustPayloadHash is like PayloadHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPayloadHash(payload Object) string {
	hash, err := PayloadHash(payload)
	if err != nil {
		panic(err)
	}
	return hash
}
