package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/goldenpath/internal/record"
)

// parseEvents extracts event type declarations from the contract.
func parseEvents(v cue.Value) ([]record.EventSpec, error) {
	var events []record.EventSpec

	eventsVal := v.LookupPath(cue.ParsePath("events"))
	if !eventsVal.Exists() {
		return events, nil
	}

	iter, err := eventsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		eventName := iter.Label()
		eventValue := iter.Value()

		spec := record.EventSpec{
			Name:   eventName,
			Fields: make(map[string]string),
		}

		// Parse payload fields (optional)
		fieldsVal := eventValue.LookupPath(cue.ParsePath("fields"))
		if fieldsVal.Exists() {
			fieldIter, err := fieldsVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}

			for fieldIter.Next() {
				fieldName := fieldIter.Label()
				fieldType, err := extractTypeName(fieldIter.Value())
				if err != nil {
					return nil, err
				}
				spec.Fields[fieldName] = fieldType
			}
		}

		// Parse lifecycle markers (optional bools)
		spec.Initial, err = parseBoolField(eventValue, "initial")
		if err != nil {
			return nil, err
		}
		spec.Terminal, err = parseBoolField(eventValue, "terminal")
		if err != nil {
			return nil, err
		}

		// Parse pairing constraint (optional)
		pairingVal := eventValue.LookupPath(cue.ParsePath("pairing"))
		if pairingVal.Exists() {
			pairing, err := parsePairing(eventName, pairingVal)
			if err != nil {
				return nil, err
			}
			spec.Pairing = pairing
		}

		events = append(events, spec)
	}

	return events, nil
}

// parseBoolField reads an optional bool field, false when absent.
func parseBoolField(v cue.Value, field string) (bool, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return false, nil
	}
	b, err := fieldVal.Bool()
	if err != nil {
		return false, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a bool", field),
			Pos:     fieldVal.Pos(),
		}
	}
	return b, nil
}

// parsePairing extracts a pairing constraint: role, counterpart, key.
func parsePairing(eventName string, v cue.Value) (*record.PairingSpec, error) {
	pairing := &record.PairingSpec{}

	roleVal := v.LookupPath(cue.ParsePath("role"))
	if !roleVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("events.%s.pairing.role", eventName),
			Message: "pairing requires 'role' (\"open\" or \"close\")",
			Pos:     v.Pos(),
		}
	}
	role, err := roleVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if role != record.PairingRoleOpen && role != record.PairingRoleClose {
		return nil, &CompileError{
			Field:   fmt.Sprintf("events.%s.pairing.role", eventName),
			Message: fmt.Sprintf("invalid role %q, must be \"open\" or \"close\"", role),
			Pos:     roleVal.Pos(),
		}
	}
	pairing.Role = role

	counterpartVal := v.LookupPath(cue.ParsePath("counterpart"))
	if !counterpartVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("events.%s.pairing.counterpart", eventName),
			Message: "pairing requires 'counterpart' event type",
			Pos:     v.Pos(),
		}
	}
	counterpart, err := counterpartVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	pairing.Counterpart = counterpart

	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("events.%s.pairing.key", eventName),
			Message: "pairing requires 'key' (payload field carrying the pair key)",
			Pos:     v.Pos(),
		}
	}
	key, err := keyVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	pairing.Key = key

	return pairing, nil
}

// extractTypeName converts a CUE type to a payload type string.
// Floats are forbidden - they break deterministic hashing.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
