package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/goldenpath/internal/record"
)

// CompileContract parses a CUE value into a Contract.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the contract struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`contract: agentchat: { ... }`)
//	c, err := CompileContract(v.LookupPath(cue.ParsePath("contract.agentchat")))
func CompileContract(v cue.Value) (*record.Contract, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &record.Contract{}

	// Parse contract name from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		c.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	// Parse version (optional, defaults to "1")
	c.Version = "1"
	versionVal := v.LookupPath(cue.ParsePath("version"))
	if versionVal.Exists() {
		version, err := versionVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.Version = version
	}

	// Parse events (required, at least one)
	var err error
	c.Events, err = parseEvents(v)
	if err != nil {
		return nil, err
	}
	if len(c.Events) == 0 {
		return nil, &CompileError{
			Field:   "events",
			Message: "at least one event is required",
			Pos:     v.Pos(),
		}
	}

	// Parse transitions (optional, can be empty for single-event contracts)
	c.Transitions, err = parseTransitions(v)
	if err != nil {
		return nil, err
	}

	// Parse golden_path (optional here, checked by Validate)
	c.GoldenPath, err = parseGoldenPath(v)
	if err != nil {
		return nil, err
	}

	// Parse quotas with defaults
	c.MaxEventsPerRun, err = parseQuota(v, "max_events_per_run", record.DefaultMaxEventsPerRun)
	if err != nil {
		return nil, err
	}
	c.MaxRepeats, err = parseQuota(v, "max_repeats", record.DefaultMaxRepeats)
	if err != nil {
		return nil, err
	}

	// Parse principles (optional) - can be a string, object, or array
	principlesVal := v.LookupPath(cue.ParsePath("principles"))
	if principlesVal.Exists() {
		principles, err := parsePrinciples(principlesVal)
		if err != nil {
			return nil, err
		}
		c.Principles = principles
	}

	return c, nil
}

// parseTransitions extracts the legal event graph edges.
func parseTransitions(v cue.Value) ([]record.Transition, error) {
	var transitions []record.Transition

	transVal := v.LookupPath(cue.ParsePath("transitions"))
	if !transVal.Exists() {
		return transitions, nil
	}

	iter, err := transVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		edgeVal := iter.Value()

		from, err := edgeVal.LookupPath(cue.ParsePath("from")).String()
		if err != nil {
			return nil, &CompileError{
				Field:   "transitions.from",
				Message: "transition requires a string 'from' event type",
				Pos:     edgeVal.Pos(),
			}
		}

		to, err := edgeVal.LookupPath(cue.ParsePath("to")).String()
		if err != nil {
			return nil, &CompileError{
				Field:   "transitions.to",
				Message: "transition requires a string 'to' event type",
				Pos:     edgeVal.Pos(),
			}
		}

		transitions = append(transitions, record.Transition{From: from, To: to})
	}

	return transitions, nil
}

// parseGoldenPath extracts the ordered happy-path walk.
func parseGoldenPath(v cue.Value) ([]string, error) {
	var path []string

	pathVal := v.LookupPath(cue.ParsePath("golden_path"))
	if !pathVal.Exists() {
		return path, nil
	}

	iter, err := pathVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		step, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "golden_path",
				Message: "golden path steps must be event type strings",
				Pos:     iter.Value().Pos(),
			}
		}
		path = append(path, step)
	}

	return path, nil
}

// parseQuota extracts an int64 quota field, applying the default when absent.
func parseQuota(v cue.Value, field string, def int64) (int64, error) {
	quotaVal := v.LookupPath(cue.ParsePath(field))
	if !quotaVal.Exists() {
		return def, nil
	}

	n, err := quotaVal.Int64()
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: "quota must be an integer",
			Pos:     quotaVal.Pos(),
		}
	}
	return n, nil
}

// parsePrinciples parses behavioral principles from a CUE value.
// Supports:
// - Single string: "description text"
// - Single object: { description: "...", scenario: "..." }
// - Array of strings or objects
func parsePrinciples(v cue.Value) ([]record.Principle, error) {
	var principles []record.Principle

	// Try as string first (single principle)
	if desc, err := v.String(); err == nil {
		return []record.Principle{{Description: desc}}, nil
	}

	// Try as structured object (single principle with description/scenario)
	descVal := v.LookupPath(cue.ParsePath("description"))
	if descVal.Exists() {
		principle, err := parsePrinciple(v)
		if err != nil {
			return nil, err
		}
		return []record.Principle{principle}, nil
	}

	// Try as array
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		principle, err := parsePrinciple(iter.Value())
		if err != nil {
			return nil, err
		}
		principles = append(principles, principle)
	}

	return principles, nil
}

// parsePrinciple parses a single principle.
// Supports string or structured object format.
func parsePrinciple(v cue.Value) (record.Principle, error) {
	var principle record.Principle

	// Try as string first
	if str, err := v.String(); err == nil {
		principle.Description = str
		return principle, nil
	}

	// Try as structured object
	descVal := v.LookupPath(cue.ParsePath("description"))
	if descVal.Exists() {
		desc, err := descVal.String()
		if err != nil {
			return principle, formatCUEError(err)
		}
		principle.Description = desc

		// Scenario is optional
		scenarioVal := v.LookupPath(cue.ParsePath("scenario"))
		if scenarioVal.Exists() {
			scenario, err := scenarioVal.String()
			if err != nil {
				return principle, formatCUEError(err)
			}
			principle.Scenario = scenario
		}

		return principle, nil
	}

	return principle, &CompileError{
		Field:   "principles",
		Message: "must be a string or object with description field",
		Pos:     v.Pos(),
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
