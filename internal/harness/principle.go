package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/goldenpath/internal/record"
)

// ScenarioNotFoundError is returned when a principle references a scenario
// file that does not exist.
type ScenarioNotFoundError struct {
	Principle    string
	ScenarioPath string
	ResolvedPath string
}

func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf(
		"principle %q references scenario file %q which does not exist (resolved to: %s)",
		e.Principle,
		e.ScenarioPath,
		e.ResolvedPath,
	)
}

// ExtractScenarios resolves a principle's scenario reference relative to the
// contract's directory. Principles without a scenario are prose-only and
// return an empty list.
func ExtractScenarios(principle record.Principle, contractDir string) ([]string, error) {
	if principle.Scenario == "" {
		return []string{}, nil
	}

	scenarioPath := principle.Scenario
	if !filepath.IsAbs(scenarioPath) {
		scenarioPath = filepath.Join(contractDir, scenarioPath)
	}

	if _, err := os.Stat(scenarioPath); os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{
			Principle:    principle.Description,
			ScenarioPath: principle.Scenario,
			ResolvedPath: scenarioPath,
		}
	}
	return []string{scenarioPath}, nil
}

// PrincipleReport tallies the outcome of validating contract principles.
type PrincipleReport struct {
	TotalPrinciples int                `json:"total_principles"`
	TotalScenarios  int                `json:"total_scenarios"`
	Passed          int                `json:"passed"`
	Failed          int                `json:"failed"`
	Skipped         int                `json:"skipped"` // Prose-only principles
	Failures        []PrincipleFailure `json:"failures,omitempty"`
}

// PrincipleFailure describes one failed principle validation.
type PrincipleFailure struct {
	Contract     string `json:"contract"`
	Principle    string `json:"principle"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// ValidatePrinciples runs the scenario behind every principle of every
// contract. Prose-only principles are counted as skipped, not failed; a
// promise without an executable scenario is documentation, not a test.
func ValidatePrinciples(contracts []*record.Contract, contractDir string) (*PrincipleReport, error) {
	report := &PrincipleReport{}

	for _, contract := range contracts {
		for _, principle := range contract.Principles {
			report.TotalPrinciples++

			scenarioPaths, err := ExtractScenarios(principle, contractDir)
			if err != nil {
				report.Failed++
				report.Failures = append(report.Failures, PrincipleFailure{
					Contract:     contract.Name,
					Principle:    principle.Description,
					ScenarioPath: principle.Scenario,
					Error:        err.Error(),
				})
				continue
			}
			if len(scenarioPaths) == 0 {
				report.Skipped++
				continue
			}

			for _, scenarioPath := range scenarioPaths {
				report.TotalScenarios++

				scenario, err := LoadScenario(scenarioPath)
				if err != nil {
					report.Failed++
					report.Failures = append(report.Failures, PrincipleFailure{
						Contract:     contract.Name,
						Principle:    principle.Description,
						ScenarioPath: scenarioPath,
						Error:        fmt.Sprintf("load scenario: %v", err),
					})
					continue
				}

				result, err := Run(scenario)
				if err != nil {
					report.Failed++
					report.Failures = append(report.Failures, PrincipleFailure{
						Contract:     contract.Name,
						Principle:    principle.Description,
						ScenarioPath: scenarioPath,
						Error:        fmt.Sprintf("scenario execution: %v", err),
					})
					continue
				}
				if !result.Pass {
					report.Failed++
					report.Failures = append(report.Failures, PrincipleFailure{
						Contract:     contract.Name,
						Principle:    principle.Description,
						ScenarioPath: scenarioPath,
						Error:        fmt.Sprintf("scenario assertions failed: %v", result.Errors),
					})
					continue
				}
				report.Passed++
			}
		}
	}

	return report, nil
}
