package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter    string
	Update    bool
	GoldenDir string
}

// ScenarioOutcome summarizes one scenario run.
type ScenarioOutcome struct {
	Name       string   `json:"name"`
	Pass       bool     `json:"pass"`
	Status     string   `json:"status,omitempty"`
	Events     int      `json:"events"`
	Detections int      `json:"detections"`
	Errors     []string `json:"errors,omitempty"`
}

// TestSummary is the data payload of a test run.
type TestSummary struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml | scenario-dir>",
		Short: "Run scenario suites against their contracts",
		Long: `Run YAML scenarios through the conformance harness.

Each scenario executes against a fresh in-memory database with a
deterministic clock, so results are a pure function of the scenario and its
contract. When a golden directory is configured, the trace snapshot of each
scenario is compared against <golden-dir>/<name>.golden; --update rewrites
the golden files instead of comparing.

Exit codes:
  0 - every scenario passed
  1 - one or more scenarios failed
  2 - scenarios could not be loaded

Examples:
  goldenpath test scenarios/
  goldenpath test scenarios/golden_path_happy.yaml --golden-dir testdata/golden
  goldenpath test scenarios/ --filter unclosed --update --golden-dir testdata/golden`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "run only scenarios whose name contains this substring")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files instead of comparing")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "directory of golden trace snapshots")

	return cmd
}

func runTest(opts *TestOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	paths, err := collectScenarioPaths(path)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}

	summary := TestSummary{}
	for _, scenarioPath := range paths {
		scenario, err := harness.LoadScenario(scenarioPath)
		if err != nil {
			return formatter.Error(ExitCommandError, ErrCodeIO,
				fmt.Sprintf("load %s: %v", scenarioPath, err), nil)
		}
		if opts.Filter != "" && !strings.Contains(scenario.Name, opts.Filter) {
			continue
		}

		result, err := harness.Run(scenario)
		if err != nil {
			return formatter.Error(ExitCommandError, ErrCodeTestFailed,
				fmt.Sprintf("run %s: %v", scenario.Name, err), nil)
		}

		if opts.GoldenDir != "" {
			if err := checkGolden(opts, scenario.Name, result); err != nil {
				result.AddError(err.Error())
			}
		}

		outcome := ScenarioOutcome{
			Name:       scenario.Name,
			Pass:       result.Pass,
			Status:     result.Status,
			Events:     len(result.Trace),
			Detections: len(result.Detections),
			Errors:     result.Errors,
		}
		summary.Scenarios = append(summary.Scenarios, outcome)
		if result.Pass {
			summary.Passed++
			formatter.Textf("PASS %s (%d events, %d detections)\n",
				scenario.Name, outcome.Events, outcome.Detections)
		} else {
			summary.Failed++
			formatter.Textf("FAIL %s\n", scenario.Name)
			for _, msg := range result.Errors {
				formatter.Textf("  %s\n", msg)
			}
		}
	}

	if len(summary.Scenarios) == 0 {
		return formatter.Error(ExitCommandError, ErrCodeNotFound, "no scenarios matched", nil)
	}

	if summary.Failed > 0 {
		return formatter.Error(ExitFailure, ErrCodeTestFailed,
			fmt.Sprintf("%d of %d scenario(s) failed", summary.Failed, len(summary.Scenarios)), summary)
	}

	if formatter.IsJSON() {
		return formatter.JSON(summary)
	}
	formatter.Textf("%d scenario(s) passed\n", summary.Passed)

	return nil
}

// collectScenarioPaths expands a path into the sorted list of scenario
// files it names: the file itself, or every .yaml in the directory.
func collectScenarioPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path %s: %w", path, err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir %s: %w", path, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		paths = append(paths, filepath.Join(path, entry.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no .yaml scenarios in %s", path)
	}

	return paths, nil
}

// checkGolden compares (or with --update, rewrites) the scenario's golden
// trace snapshot.
func checkGolden(opts *TestOptions, name string, result *harness.Result) error {
	snapshot := harness.TraceSnapshot{
		ScenarioName: name,
		RunToken:     result.RunToken,
		Trace:        result.Trace,
		Detections:   result.Detections,
	}
	got, err := snapshot.Canonical()
	if err != nil {
		return fmt.Errorf("golden snapshot: %w", err)
	}

	goldenPath := filepath.Join(opts.GoldenDir, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return fmt.Errorf("golden dir: %w", err)
		}
		if err := os.WriteFile(goldenPath, got, 0o644); err != nil {
			return fmt.Errorf("write golden: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(goldenPath)
	if err != nil {
		return fmt.Errorf("read golden %s: %w", goldenPath, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("golden mismatch for %s: got %s", name, got)
	}

	return nil
}
