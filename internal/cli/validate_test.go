package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_CleanContract(t *testing.T) {
	out, err := runCommand(t, "validate", contractPath)

	require.NoError(t, err)
	assert.Contains(t, out, "1 contract(s) valid")
}

func TestValidate_JSONEnvelope(t *testing.T) {
	out, err := runCommand(t, "--format", "json", "validate", contractPath)

	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
}

func TestValidate_BrokenContractFailsWithExitOne(t *testing.T) {
	// A transition referencing an undeclared event is a validation error,
	// not a compile error.
	broken := `
contract: ghostly: {
	version: "1.0.0"
	events: {
		agent_started: {initial: true, fields: {agent_id: "string"}}
		agent_completed: {terminal: true, fields: {status: "string"}}
	}
	transitions: [
		{from: "agent_started", to: "agent_completed"},
		{from: "agent_started", to: "ghost_event"},
	]
	golden_path: ["agent_started", "agent_completed"]
	max_events_per_run: 8
	max_repeats: 2
}
`
	path := filepath.Join(t.TempDir(), "ghostly.cue")
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	out, err := runCommand(t, "--format", "json", "validate", path)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidateFailed, resp.Error.Code)
}

func TestValidate_UnparseableFileFailsWithExitTwo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("contract: {{{"), 0o644))

	_, err := runCommand(t, "validate", path)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
