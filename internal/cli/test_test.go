package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTest_RunsScenarioDirectory(t *testing.T) {
	out, err := runCommand(t, "test", "testdata/scenarios")

	require.NoError(t, err)
	assert.Contains(t, out, "PASS golden_path_happy")
	assert.Contains(t, out, "PASS illegal_transition")
	assert.Contains(t, out, "2 scenario(s) passed")
}

func TestTest_SingleScenarioFile(t *testing.T) {
	out, err := runCommand(t, "test", "testdata/scenarios/golden_path_happy.yaml")

	require.NoError(t, err)
	assert.Contains(t, out, "PASS golden_path_happy")
}

func TestTest_FilterSelectsByName(t *testing.T) {
	out, err := runCommand(t, "test", "testdata/scenarios", "--filter", "illegal")

	require.NoError(t, err)
	assert.Contains(t, out, "illegal_transition")
	assert.NotContains(t, out, "golden_path_happy")
}

func TestTest_FilterWithNoMatch(t *testing.T) {
	_, err := runCommand(t, "test", "testdata/scenarios", "--filter", "nonexistent")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_FailingScenarioExitsOne(t *testing.T) {
	out, err := runCommand(t, "--format", "json", "test", "testdata/failing/expect_mismatch.yaml")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTest_MissingPathExitsTwo(t *testing.T) {
	_, err := runCommand(t, "test", "testdata/no-such-dir")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_UpdateThenCompareGoldens(t *testing.T) {
	goldenDir := t.TempDir()

	_, err := runCommand(t, "test", "testdata/scenarios/golden_path_happy.yaml",
		"--golden-dir", goldenDir, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(filepath.Join(goldenDir, "golden_path_happy.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"golden_path_happy"`)

	// Scenarios are deterministic, so the fresh golden must match.
	out, err := runCommand(t, "test", "testdata/scenarios/golden_path_happy.yaml",
		"--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
}

func TestTest_GoldenMismatchFails(t *testing.T) {
	goldenDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(goldenDir, "golden_path_happy.golden"),
		[]byte(`{"stale":"snapshot"}`), 0o644))

	_, err := runCommand(t, "test", "testdata/scenarios/golden_path_happy.yaml",
		"--golden-dir", goldenDir)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
