package capture

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/roach88/goldenpath/internal/record"
)

// WireEnvelope is one frame of the backend wire protocol: a JSON object
// carrying an event type, an optional run token, and an optional payload.
// An absent payload means an empty one.
type WireEnvelope struct {
	Type     string        `json:"type"`
	RunToken string        `json:"run_token,omitempty"`
	Payload  record.Object `json:"payload,omitempty"`
}

// MalformedFrameError marks a frame the capture pipeline dropped instead of
// ingesting. The reason is recorded in the run's malformed-frame detection.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return "malformed frame: " + e.Reason
}

// IsMalformedFrame reports whether err is a MalformedFrameError.
func IsMalformedFrame(err error) bool {
	var mfe *MalformedFrameError
	return errors.As(err, &mfe)
}

// DecodeEnvelope strictly decodes one wire frame. Unknown top-level fields,
// a missing type, a null payload, and fractional numbers are all malformed;
// the pipeline drops such frames and flags the run rather than guessing
// what the backend meant.
func DecodeEnvelope(data []byte) (WireEnvelope, error) {
	var raw struct {
		Type     string          `json:"type"`
		RunToken string          `json:"run_token"`
		Payload  json.RawMessage `json:"payload"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return WireEnvelope{}, &MalformedFrameError{Reason: err.Error()}
	}
	if dec.More() {
		return WireEnvelope{}, &MalformedFrameError{Reason: "trailing data after envelope"}
	}
	if raw.Type == "" {
		return WireEnvelope{}, &MalformedFrameError{Reason: "missing event type"}
	}
	if bytes.Equal(bytes.TrimSpace(raw.Payload), []byte("null")) {
		return WireEnvelope{}, &MalformedFrameError{Reason: "payload is null"}
	}

	env := WireEnvelope{Type: raw.Type, RunToken: raw.RunToken, Payload: record.Object{}}
	if len(raw.Payload) > 0 {
		payload, err := record.ParseObject(raw.Payload)
		if err != nil {
			return WireEnvelope{}, &MalformedFrameError{Reason: err.Error()}
		}
		env.Payload = payload
	}
	return env, nil
}
