package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a contract, a scripted event
// stream, and assertions over what the engine made of it.
type Scenario struct {
	// Name uniquely identifies this scenario. Doubles as the golden file
	// name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Contracts lists CUE contract files, relative to the scenario file.
	// The first contract drives validation; all of them must compile.
	Contracts []string `yaml:"contracts"`

	// RunToken pins the run token. Empty defaults to DefaultRunToken so
	// golden transcripts stay stable.
	RunToken string `yaml:"run_token,omitempty"`

	// Setup emits events before the main flow with no expect checks.
	Setup []EmitStep `yaml:"setup,omitempty"`

	// Flow is the main scripted stream.
	Flow []EmitStep `yaml:"flow"`

	// Assertions validate the final trace, detections, and state.
	Assertions []Assertion `yaml:"assertions"`
}

// EmitStep emits one event into the engine.
type EmitStep struct {
	// Emit is the event type.
	Emit string `yaml:"emit"`

	// Payload carries the event payload. Required; use an empty map for
	// payload-less events.
	Payload map[string]any `yaml:"payload"`

	// Expect checks what this step provoked. Nil skips the check.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks the detections one step provoked.
type ExpectClause struct {
	// Detections is the exact number of new detections this event must
	// produce. Zero asserts a clean step.
	Detections int `yaml:"detections"`
}

// Assertion validates the scenario outcome. Which fields apply depends on
// Type.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, detections,
	// final_state.
	Type string `yaml:"type"`

	// Event is the event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Payload is a subset payload match (trace_contains).
	Payload map[string]any `yaml:"payload,omitempty"`

	// Events is the expected relative order by first occurrence
	// (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected occurrence count (trace_count, detections).
	Count int `yaml:"count"`

	// Detector, Category, and Severity filter which detections are counted
	// (detections). Empty filters match everything.
	Detector string `yaml:"detector,omitempty"`
	Category string `yaml:"category,omitempty"`
	Severity string `yaml:"severity,omitempty"`

	// Table, Where, and Expect drive a final_state query: exactly one row
	// of Table matching Where must carry the Expect values.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertDetections    = "detections"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file, resolving contract
// paths relative to the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file and resolves relative
// contract paths against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	// Strict decode catches typos like "assertion:" for "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	for i, contractPath := range scenario.Contracts {
		if !filepath.IsAbs(contractPath) && basePath != "" {
			scenario.Contracts[i] = filepath.Join(basePath, contractPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields before execution.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Contracts) == 0 {
		return fmt.Errorf("contracts list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, contractPath := range s.Contracts {
		if _, err := os.Stat(contractPath); os.IsNotExist(err) {
			return fmt.Errorf("contract file not found: %s", contractPath)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step *EmitStep) error {
	if step.Emit == "" {
		return fmt.Errorf("emit is required")
	}
	if step.Payload == nil {
		return fmt.Errorf("payload is required (use an empty map for payload-less events)")
	}
	if step.Expect != nil && step.Expect.Detections < 0 {
		return fmt.Errorf("expect.detections must be non-negative")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDetections:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for detections", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
