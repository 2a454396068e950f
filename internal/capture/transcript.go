package capture

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/roach88/goldenpath/internal/engine"
	"github.com/roach88/goldenpath/internal/record"
)

// TranscriptEntry is one line of a JSONL transcript: an event as recorded,
// with the sequence number it was stamped with. Re-ingesting an entry with
// its original seq reproduces the original event ID, which is what makes
// transcript replay a structural no-op.
type TranscriptEntry struct {
	RunToken string        `json:"run_token"`
	Type     string        `json:"type"`
	Payload  record.Object `json:"payload"`
	Seq      int64         `json:"seq"`
}

// EntryFromEvent projects a sealed event onto its transcript form.
func EntryFromEvent(ev record.EmittedEvent) TranscriptEntry {
	return TranscriptEntry{
		RunToken: ev.RunToken,
		Type:     ev.Type,
		Payload:  ev.Payload,
		Seq:      ev.Seq,
	}
}

// Envelope converts the entry back into an ingestable envelope, preserving
// its original sequence number.
func (e TranscriptEntry) Envelope(origin record.Origin) engine.Envelope {
	return engine.Envelope{
		RunToken: e.RunToken,
		Type:     e.Type,
		Payload:  e.Payload,
		Origin:   origin,
		Seq:      e.Seq,
	}
}

// TranscriptWriter appends entries to a JSONL stream. Safe for concurrent
// use; capture's record tee and the engine loop may interleave.
type TranscriptWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewTranscriptWriter wraps a writer in a JSONL encoder.
func NewTranscriptWriter(w io.Writer) *TranscriptWriter {
	return &TranscriptWriter{enc: json.NewEncoder(w)}
}

// Write appends one entry as a JSON line.
func (t *TranscriptWriter) Write(entry TranscriptEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enc.Encode(entry); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return nil
}

// ReadTranscript parses a JSONL transcript. Blank lines are skipped; a line
// that does not decode strictly is an error naming the line number.
func ReadTranscript(r io.Reader) ([]TranscriptEntry, error) {
	var entries []TranscriptEntry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var entry TranscriptEntry
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("transcript line %d: %w", line, err)
		}
		if entry.Type == "" {
			return nil, fmt.Errorf("transcript line %d: missing event type", line)
		}
		if entry.Payload == nil {
			entry.Payload = record.Object{}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return entries, nil
}

// LoadTranscript reads a JSONL transcript file.
func LoadTranscript(path string) ([]TranscriptEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	entries, err := ReadTranscript(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}
