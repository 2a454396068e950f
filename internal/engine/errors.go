package engine

import (
	"errors"
	"fmt"
)

// EngineError represents an error detected during event processing.
//
// Engine errors include:
//   - Run limit: the run exceeded max_events_per_run
//   - Unknown contract: an event was stamped with a contract hash the
//     engine has never compiled
//   - Invalid event: an envelope that cannot be sealed (bad payload, bad
//     origin)
//
// EngineError includes structured fields for diagnostics.
type EngineError struct {
	// Code identifies the error category.
	Code EngineErrorCode

	// Message is a human-readable description.
	Message string

	// RunToken identifies the affected run, if any.
	RunToken string

	// Details contains additional context.
	Details map[string]string
}

// EngineErrorCode categorizes engine errors.
type EngineErrorCode string

const (
	// ErrCodeRunLimit indicates the run exceeded its event quota.
	ErrCodeRunLimit EngineErrorCode = "RUN_LIMIT"

	// ErrCodeUnknownContract indicates a contract hash mismatch that the
	// engine cannot resolve.
	ErrCodeUnknownContract EngineErrorCode = "UNKNOWN_CONTRACT"

	// ErrCodeInvalidEvent indicates an envelope that cannot be sealed.
	ErrCodeInvalidEvent EngineErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.RunToken != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Message, e.RunToken)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RunLimitError is returned when a run exceeds max_events_per_run.
//
// The offending event is dropped, a single runaway detection is recorded
// for the run, and ingestion for the run effectively stops.
type RunLimitError struct {
	RunToken string // The run that exceeded the quota
	Events   int64  // Number of events observed
	Limit    int64  // Maximum allowed events
}

// Error implements the error interface.
func (e *RunLimitError) Error() string {
	return fmt.Sprintf("run %s exceeded event quota: %d events > %d limit",
		e.RunToken, e.Events, e.Limit)
}

// IsRunLimitError returns true if the error is a RunLimitError.
// Uses errors.As to handle wrapped errors.
func IsRunLimitError(err error) bool {
	var re *RunLimitError
	return errors.As(err, &re)
}

// NewInvalidEventError creates an EngineError for an unsealable envelope.
func NewInvalidEventError(runToken, msg string) *EngineError {
	return &EngineError{
		Code:     ErrCodeInvalidEvent,
		Message:  msg,
		RunToken: runToken,
	}
}
