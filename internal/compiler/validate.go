package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/goldenpath/internal/record"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported type for validation

	// Event declaration errors (E101-E109)
	ErrContractNoEvents   = "E101" // at least one event required
	ErrDuplicateEvent     = "E102" // duplicate event name
	ErrInvalidFieldType   = "E103" // invalid payload field type
	ErrFloatTypeForbidden = "E104" // float types not allowed
	ErrNoInitialEvent     = "E105" // no initial event declared
	ErrNoTerminalEvent    = "E106" // no terminal event declared
	ErrPairingUndeclared  = "E107" // pairing counterpart not declared
	ErrPairingAsymmetric  = "E108" // pairing not reciprocal
	ErrInvalidPairing     = "E109" // malformed pairing (role, key, self-pair)

	// Transition errors (E110-E112)
	ErrUnknownTransitionEvent = "E110" // transition endpoint not declared
	ErrDuplicateTransition    = "E111" // duplicate transition edge
	ErrTransitionFromTerminal = "E112" // terminal event has outgoing edge

	// Golden path errors (E113-E116)
	ErrGoldenPathEmpty     = "E113" // golden path is required
	ErrGoldenPathUnknown   = "E114" // golden path step not declared
	ErrGoldenPathEdge      = "E115" // golden path edge not a transition
	ErrGoldenPathEndpoints = "E116" // must start initial, end terminal

	// Quota errors (E117)
	ErrInvalidQuota = "E117" // nonsensical quota value
)

// ValidationError represents a contract validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled contract against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch c := v.(type) {
	case *record.Contract:
		return validateContract(c)
	case record.Contract:
		return validateContract(&c)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// validateContract checks the whole contract: event declarations, pairing
// reciprocity, the transition graph, the golden path walk, and quotas.
func validateContract(c *record.Contract) []ValidationError {
	var errs []ValidationError

	// E101: at least one event required
	if len(c.Events) == 0 {
		errs = append(errs, ValidationError{
			Field:   "events",
			Message: "at least one event is required",
			Code:    ErrContractNoEvents,
		})
	}

	declared := make(map[string]*record.EventSpec, len(c.Events))
	hasInitial := false
	hasTerminal := false

	for i := range c.Events {
		ev := &c.Events[i]

		// E102: duplicate event name
		if _, dup := declared[ev.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d].name", i),
				Message: fmt.Sprintf("duplicate event name: %q", ev.Name),
				Code:    ErrDuplicateEvent,
			})
		}
		declared[ev.Name] = ev

		if ev.Initial {
			hasInitial = true
		}
		if ev.Terminal {
			hasTerminal = true
		}

		// Validate payload field types
		for fieldName, fieldType := range ev.Fields {
			errs = append(errs, validateFieldType(fieldType,
				fmt.Sprintf("events[%d].fields.%s", i, fieldName), fieldName)...)
		}

		// E109: malformed pairing shape
		if ev.Pairing != nil {
			for _, ve := range ev.Validate() {
				if strings.HasPrefix(ve.Field, "pairing") {
					errs = append(errs, ValidationError{
						Field:   fmt.Sprintf("events[%d].%s", i, ve.Field),
						Message: ve.Message,
						Code:    ErrInvalidPairing,
					})
				}
			}
		}
	}

	// E105/E106: lifecycle coverage
	if len(c.Events) > 0 && !hasInitial {
		errs = append(errs, ValidationError{
			Field:   "events",
			Message: "at least one event must be marked initial",
			Code:    ErrNoInitialEvent,
		})
	}
	if len(c.Events) > 0 && !hasTerminal {
		errs = append(errs, ValidationError{
			Field:   "events",
			Message: "at least one event must be marked terminal",
			Code:    ErrNoTerminalEvent,
		})
	}

	// E107/E108: pairing counterpart exists and reciprocates
	errs = append(errs, validatePairings(c, declared)...)

	// E110-E112: transition graph
	errs = append(errs, validateTransitions(c, declared)...)

	// E113-E116: golden path
	errs = append(errs, validateGoldenPath(c, declared)...)

	// E117: quotas
	if c.MaxEventsPerRun < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_events_per_run",
			Message: fmt.Sprintf("must be at least 1, got %d", c.MaxEventsPerRun),
			Code:    ErrInvalidQuota,
		})
	}
	if c.MaxRepeats < 2 {
		errs = append(errs, ValidationError{
			Field:   "max_repeats",
			Message: fmt.Sprintf("must be at least 2, got %d (a first occurrence is not a repeat)", c.MaxRepeats),
			Code:    ErrInvalidQuota,
		})
	}

	return errs
}

// validatePairings checks that every pairing counterpart is declared and
// points back with the opposite role and the same key.
func validatePairings(c *record.Contract, declared map[string]*record.EventSpec) []ValidationError {
	var errs []ValidationError

	for i := range c.Events {
		ev := &c.Events[i]
		if ev.Pairing == nil {
			continue
		}

		counterpart, ok := declared[ev.Pairing.Counterpart]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d].pairing.counterpart", i),
				Message: fmt.Sprintf("counterpart %q is not a declared event", ev.Pairing.Counterpart),
				Code:    ErrPairingUndeclared,
			})
			continue
		}

		if counterpart.Pairing == nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d].pairing", i),
				Message: fmt.Sprintf("counterpart %q declares no pairing back to %q", counterpart.Name, ev.Name),
				Code:    ErrPairingAsymmetric,
			})
			continue
		}

		if counterpart.Pairing.Counterpart != ev.Name {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d].pairing", i),
				Message: fmt.Sprintf("counterpart %q pairs with %q, not %q", counterpart.Name, counterpart.Pairing.Counterpart, ev.Name),
				Code:    ErrPairingAsymmetric,
			})
		}

		if counterpart.Pairing.Role == ev.Pairing.Role {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d].pairing.role", i),
				Message: fmt.Sprintf("%q and %q both declare role %q, one must be \"open\" and one \"close\"", ev.Name, counterpart.Name, ev.Pairing.Role),
				Code:    ErrPairingAsymmetric,
			})
		}

		if counterpart.Pairing.Key != ev.Pairing.Key {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d].pairing.key", i),
				Message: fmt.Sprintf("%q uses key %q but counterpart %q uses %q", ev.Name, ev.Pairing.Key, counterpart.Name, counterpart.Pairing.Key),
				Code:    ErrPairingAsymmetric,
			})
		}
	}

	return errs
}

// validateTransitions checks edge endpoints, duplicates, and terminal exits.
func validateTransitions(c *record.Contract, declared map[string]*record.EventSpec) []ValidationError {
	var errs []ValidationError

	seen := make(map[record.Transition]bool, len(c.Transitions))
	for i, tr := range c.Transitions {
		if _, ok := declared[tr.From]; !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("transitions[%d].from", i),
				Message: fmt.Sprintf("%q is not a declared event", tr.From),
				Code:    ErrUnknownTransitionEvent,
			})
		}
		if _, ok := declared[tr.To]; !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("transitions[%d].to", i),
				Message: fmt.Sprintf("%q is not a declared event", tr.To),
				Code:    ErrUnknownTransitionEvent,
			})
		}

		// E111: duplicate edge
		if seen[tr] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("transitions[%d]", i),
				Message: fmt.Sprintf("duplicate transition %q -> %q", tr.From, tr.To),
				Code:    ErrDuplicateTransition,
			})
		}
		seen[tr] = true

		// E112: terminal events end the run, nothing may follow
		if from, ok := declared[tr.From]; ok && from.Terminal {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("transitions[%d].from", i),
				Message: fmt.Sprintf("terminal event %q cannot have outgoing transitions", tr.From),
				Code:    ErrTransitionFromTerminal,
			})
		}
	}

	return errs
}

// validateGoldenPath checks the golden path is present, declared, walkable
// via transitions, and spans initial to terminal.
func validateGoldenPath(c *record.Contract, declared map[string]*record.EventSpec) []ValidationError {
	var errs []ValidationError

	// E113: golden path is the contract's reason to exist
	if len(c.GoldenPath) == 0 {
		errs = append(errs, ValidationError{
			Field:   "golden_path",
			Message: "golden path is required and must list at least one event",
			Code:    ErrGoldenPathEmpty,
		})
		return errs
	}

	for i, step := range c.GoldenPath {
		if _, ok := declared[step]; !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("golden_path[%d]", i),
				Message: fmt.Sprintf("%q is not a declared event", step),
				Code:    ErrGoldenPathUnknown,
			})
		}
	}

	// E115: every consecutive pair must be a declared transition
	for i := 0; i+1 < len(c.GoldenPath); i++ {
		from, to := c.GoldenPath[i], c.GoldenPath[i+1]
		if !c.AllowsTransition(from, to) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("golden_path[%d]", i+1),
				Message: fmt.Sprintf("step %q -> %q is not a declared transition", from, to),
				Code:    ErrGoldenPathEdge,
			})
		}
	}

	// E116: endpoints
	first, last := c.GoldenPath[0], c.GoldenPath[len(c.GoldenPath)-1]
	if spec, ok := declared[first]; ok && !spec.Initial {
		errs = append(errs, ValidationError{
			Field:   "golden_path[0]",
			Message: fmt.Sprintf("golden path must start with an initial event, %q is not initial", first),
			Code:    ErrGoldenPathEndpoints,
		})
	}
	if spec, ok := declared[last]; ok && !spec.Terminal {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("golden_path[%d]", len(c.GoldenPath)-1),
			Message: fmt.Sprintf("golden path must end with a terminal event, %q is not terminal", last),
			Code:    ErrGoldenPathEndpoints,
		})
	}

	return errs
}

// validateFieldType validates a type string, returning errors for invalid
// types and floats.
func validateFieldType(fieldType, fieldPath, fieldName string) []ValidationError {
	var errs []ValidationError

	// E103: check for valid type
	if !isValidType(fieldType) {
		errs = append(errs, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("invalid type %q for field %q", fieldType, fieldName),
			Code:    ErrInvalidFieldType,
		})
	}

	// E104: float forbidden (explicit check even if not in valid types)
	if isFloatType(fieldType) {
		errs = append(errs, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("float type forbidden for field %q, use int instead", fieldName),
			Code:    ErrFloatTypeForbidden,
		})
	}

	return errs
}

// isValidType checks if a type string is valid for payload fields.
func isValidType(t string) bool {
	return record.ValidTypes[t]
}

// isFloatType checks if a type string represents a float type.
func isFloatType(t string) bool {
	floatTypes := map[string]bool{
		"float":   true,
		"float32": true,
		"float64": true,
		"number":  true,
		"double":  true,
	}
	return floatTypes[t]
}
