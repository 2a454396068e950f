package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goldenpath/internal/record"
)

func sampleTranscript() []TranscriptEntry {
	return []TranscriptEntry{
		{RunToken: "run-1", Type: "agent_started", Payload: record.Object{"agent_id": record.String("a")}, Seq: 1},
		{RunToken: "run-1", Type: "agent_completed", Payload: record.Object{"status": record.String("success")}, Seq: 2},
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewTranscriptWriter(&buf)
	for _, entry := range sampleTranscript() {
		require.NoError(t, w.Write(entry))
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)

	entries, err := ReadTranscript(&buf)
	require.NoError(t, err)
	assert.Equal(t, sampleTranscript(), entries)
}

func TestReadTranscriptSkipsBlankLines(t *testing.T) {
	input := `{"run_token":"run-1","type":"agent_started","payload":{},"seq":1}

{"run_token":"run-1","type":"agent_completed","payload":{"status":"ok"},"seq":2}
`
	entries, err := ReadTranscript(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Seq)
}

func TestReadTranscriptErrorsNameTheLine(t *testing.T) {
	input := `{"run_token":"run-1","type":"agent_started","payload":{},"seq":1}
{"run_token":"run-1","type":"","payload":{},"seq":2}
`
	_, err := ReadTranscript(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadTranscriptRejectsUnknownFields(t *testing.T) {
	_, err := ReadTranscript(strings.NewReader(`{"type":"agent_started","payload":{},"seq":1,"origin":"live"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReadTranscriptRejectsFloatPayload(t *testing.T) {
	_, err := ReadTranscript(strings.NewReader(`{"run_token":"r","type":"t","payload":{"score":0.5},"seq":1}`))
	require.Error(t, err)
}

func TestLoadTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	content := `{"run_token":"run-1","type":"agent_started","payload":{"agent_id":"a"},"seq":1}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := LoadTranscript(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "agent_started", entries[0].Type)

	_, err = LoadTranscript(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
}

func TestEntryEnvelopePreservesSeq(t *testing.T) {
	entry := TranscriptEntry{RunToken: "run-1", Type: "agent_started", Payload: record.Object{}, Seq: 7}
	env := entry.Envelope(record.OriginSimulated)

	assert.Equal(t, int64(7), env.Seq)
	assert.Equal(t, record.OriginSimulated, env.Origin)
	assert.Equal(t, "run-1", env.RunToken)
}
