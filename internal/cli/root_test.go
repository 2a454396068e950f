package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command with args and captures stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// decodeResponse parses a JSON envelope from command output.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestRoot_Help(t *testing.T) {
	out, err := runCommand(t, "--help")

	require.NoError(t, err)
	assert.Contains(t, out, "goldenpath")
	assert.Contains(t, out, "compile")
	assert.Contains(t, out, "launch")
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := runCommand(t, "--format", "xml", "verify", "--db", "x.db")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRoot_UnknownCommand(t *testing.T) {
	_, err := runCommand(t, "frobnicate")

	require.Error(t, err)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "failed")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("plain error")))
}

func TestExitError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := WrapExitError(ExitFailure, "wrapper", inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "wrapper")
	assert.Contains(t, err.Error(), "root cause")
}
