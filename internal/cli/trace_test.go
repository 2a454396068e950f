package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedRun loads the golden path transcript into a fresh database and
// returns the database path.
func seedRun(t *testing.T) string {
	t.Helper()

	db := tempDB(t)
	path := writeTranscript(t, goldenPathTranscript())
	_, err := runCommand(t, "replay", path, "--db", db, "--contract", contractPath)
	require.NoError(t, err)
	return db
}

func TestTrace_PrintsTimeline(t *testing.T) {
	db := seedRun(t)

	out, err := runCommand(t, "trace", "run-1", "--db", db)

	require.NoError(t, err)
	assert.Contains(t, out, "run run-1 status=")
	assert.Contains(t, out, "agent_started")
	assert.Contains(t, out, "agent_completed")
}

func TestTrace_JSONEnvelope(t *testing.T) {
	db := seedRun(t)

	out, err := runCommand(t, "--format", "json", "trace", "run-1", "--db", db)

	require.NoError(t, err)
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "run-1", data["run_token"])
	assert.Equal(t, true, data["found"])
	assert.Len(t, data["events"].([]any), 5)
}

func TestTrace_FilterNarrowsEvents(t *testing.T) {
	db := seedRun(t)

	out, err := runCommand(t, "--format", "json", "trace", "run-1",
		"--db", db, "--filter", "type == tool_executing")

	require.NoError(t, err)
	data := decodeResponse(t, out).Data.(map[string]any)
	events := data["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "tool_executing", events[0].(map[string]any)["type"])
}

func TestTrace_BadFilterIsCommandError(t *testing.T) {
	db := seedRun(t)

	_, err := runCommand(t, "trace", "run-1", "--db", db, "--filter", "type ~~ oops")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTrace_UnknownRunIsEmptyNotError(t *testing.T) {
	db := seedRun(t)

	out, err := runCommand(t, "trace", "run-ghost", "--db", db)

	require.NoError(t, err)
	assert.Contains(t, out, "run run-ghost: no recorded events")
}

func TestTrace_ShowsDetections(t *testing.T) {
	db := tempDB(t)

	_, err := runCommand(t, "emit", "tool_completed",
		"--db", db, "--contract", contractPath,
		"--run", "run-bad", "--payload", `{"result":"ok","tool_call_id":"t-1"}`)
	require.NoError(t, err)

	out, err := runCommand(t, "trace", "run-bad", "--db", db)

	require.NoError(t, err)
	assert.Contains(t, out, "!")
}
