package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulate_MissingTranscript(t *testing.T) {
	_, err := runCommand(t, "simulate", filepath.Join(t.TempDir(), "nope.jsonl"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate_UnbindableAddress(t *testing.T) {
	path := writeTranscript(t, goldenPathTranscript())

	_, err := runCommand(t, "simulate", path, "--addr", "999.999.999.999:0")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
