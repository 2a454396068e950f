package engine

import (
	"fmt"
	"sort"

	"github.com/roach88/goldenpath/internal/record"
)

// Detector names. The category is the prefix; the suffix names the rule.
const (
	DetectorUndeclaredType = "schema/undeclared_type"
	DetectorMissingField   = "schema/missing_field"
	DetectorFieldType      = "schema/field_type"
	DetectorExtraField     = "schema/extra_field"
	DetectorMalformedFrame = "schema/malformed_frame"

	DetectorTransition    = "sequence/transition"
	DetectorAfterTerminal = "sequence/after_terminal"

	DetectorUnmatchedResponse = "pairing/unmatched_response"
	DetectorDuplicateResponse = "pairing/duplicate_response"
	DetectorUnclosed          = "pairing/unclosed"

	DetectorRepeat = "loop/repeat"

	DetectorRunawayLimit = "runaway/limit"

	DetectorContractDrift = "authenticity/contract"
	DetectorForeignOrigin = "authenticity/origin"
)

// detectorCategories maps each detector to its category.
var detectorCategories = map[string]string{
	DetectorUndeclaredType:    record.CategorySchema,
	DetectorMissingField:      record.CategorySchema,
	DetectorFieldType:         record.CategorySchema,
	DetectorExtraField:        record.CategorySchema,
	DetectorMalformedFrame:    record.CategorySchema,
	DetectorTransition:        record.CategorySequence,
	DetectorAfterTerminal:     record.CategorySequence,
	DetectorUnmatchedResponse: record.CategoryPairing,
	DetectorDuplicateResponse: record.CategoryPairing,
	DetectorUnclosed:          record.CategoryPairing,
	DetectorRepeat:            record.CategoryLoop,
	DetectorRunawayLimit:      record.CategoryRunaway,
	DetectorContractDrift:     record.CategoryAuthenticity,
	DetectorForeignOrigin:     record.CategoryAuthenticity,
}

// detectorSeverities maps each detector to its fixed severity. Severity is a
// property of the rule, not the instance, so detection IDs stay stable.
var detectorSeverities = map[string]record.Severity{
	DetectorUndeclaredType:    record.SeverityCritical,
	DetectorMissingField:      record.SeverityCritical,
	DetectorFieldType:         record.SeverityCritical,
	DetectorExtraField:        record.SeverityWarning,
	DetectorMalformedFrame:    record.SeverityCritical,
	DetectorTransition:        record.SeverityCritical,
	DetectorAfterTerminal:     record.SeverityWarning,
	DetectorUnmatchedResponse: record.SeverityCritical,
	DetectorDuplicateResponse: record.SeverityCritical,
	DetectorUnclosed:          record.SeverityWarning,
	DetectorRepeat:            record.SeverityWarning,
	DetectorRunawayLimit:      record.SeverityCritical,
	DetectorContractDrift:     record.SeverityCritical,
	DetectorForeignOrigin:     record.SeverityCritical,
}

// finding is a detector hit before it becomes a content-addressed Detection.
type finding struct {
	detector    string
	title       string
	description string
	evidence    []string
}

// evaluate runs the detector pipeline for one event and folds the event into
// the run state. It is deterministic: the same event against the same state
// always yields the same findings in the same order, which is what makes
// detection IDs stable across replays and restarts.
//
// Pipeline order: schema, sequence, pairing, loop, authenticity. Undeclared
// event types short-circuit the contract-driven detectors (sequence,
// pairing) because the contract has nothing to say about them, but loop and
// authenticity still apply.
func (e *Engine) evaluate(s *runState, ev record.EmittedEvent) []record.Detection {
	var findings []finding

	spec, declared := e.contract.Event(ev.Type)

	findings = append(findings, detectSchema(spec, declared, ev)...)
	findings = append(findings, detectSequence(e.contract, s, declared, ev)...)
	if declared {
		findings = append(findings, pairingStep(s, spec, ev)...)
		if spec.Terminal && !s.finalized {
			findings = append(findings, detectUnclosed(s, ev)...)
		}
	}
	findings = append(findings, loopStep(e.contract, s, ev)...)
	findings = append(findings, e.detectAuthenticity(ev)...)

	s.noteEvent(ev, spec, declared)

	detections := make([]record.Detection, 0, len(findings))
	for _, f := range findings {
		detections = append(detections, record.Detection{
			ID:          record.MustDetectionID(ev.RunToken, f.detector, f.evidence, ev.Seq),
			RunToken:    ev.RunToken,
			Detector:    f.detector,
			Category:    detectorCategories[f.detector],
			Severity:    detectorSeverities[f.detector],
			Title:       f.title,
			Description: f.description,
			Evidence:    f.evidence,
			Seq:         ev.Seq,
		})
	}
	return detections
}

// detectSchema validates the event type and payload against the contract.
// Field checks report every violation, not just the first, in sorted field
// order so the finding list is deterministic.
func detectSchema(spec *record.EventSpec, declared bool, ev record.EmittedEvent) []finding {
	if !declared {
		return []finding{{
			detector:    DetectorUndeclaredType,
			title:       "undeclared event type",
			description: fmt.Sprintf("event type %q is not declared by the contract", ev.Type),
			evidence:    []string{ev.ID},
		}}
	}

	var findings []finding

	declaredFields := make([]string, 0, len(spec.Fields))
	for name := range spec.Fields {
		declaredFields = append(declaredFields, name)
	}
	sort.Strings(declaredFields)

	for _, name := range declaredFields {
		want := spec.Fields[name]
		got, ok := ev.Payload[name]
		if !ok {
			findings = append(findings, finding{
				detector:    DetectorMissingField,
				title:       "missing payload field",
				description: fmt.Sprintf("%s payload is missing required field %q", ev.Type, name),
				evidence:    []string{ev.ID},
			})
			continue
		}
		if actual := valueType(got); actual != want {
			findings = append(findings, finding{
				detector:    DetectorFieldType,
				title:       "payload field type mismatch",
				description: fmt.Sprintf("%s field %q is %s, contract declares %s", ev.Type, name, actual, want),
				evidence:    []string{ev.ID},
			})
		}
	}

	for _, name := range ev.Payload.SortedKeys() {
		if _, ok := spec.Fields[name]; !ok {
			findings = append(findings, finding{
				detector:    DetectorExtraField,
				title:       "undeclared payload field",
				description: fmt.Sprintf("%s payload carries field %q the contract does not declare", ev.Type, name),
				evidence:    []string{ev.ID},
			})
		}
	}

	return findings
}

// detectSequence checks the transition edge from the previous declared event.
// After a terminal event every further event is reported; before it,
// undeclared types are skipped so one typo doesn't cascade into transition
// noise.
func detectSequence(c *record.Contract, s *runState, declared bool, ev record.EmittedEvent) []finding {
	if s.finalized {
		return []finding{{
			detector:    DetectorAfterTerminal,
			title:       "event after terminal",
			description: fmt.Sprintf("%q observed after terminal event %q ended the run", ev.Type, s.terminalType),
			evidence:    []string{ev.ID},
		}}
	}
	if !declared {
		return nil
	}

	if s.lastType == "" {
		spec, _ := c.Event(ev.Type)
		if !spec.Initial {
			return []finding{{
				detector:    DetectorTransition,
				title:       "illegal initial event",
				description: fmt.Sprintf("run opened with %q, which the contract does not mark initial", ev.Type),
				evidence:    []string{ev.ID},
			}}
		}
		return nil
	}

	if !c.AllowsTransition(s.lastType, ev.Type) {
		return []finding{{
			detector:    DetectorTransition,
			title:       "illegal transition",
			description: fmt.Sprintf("transition %s → %s is not declared by the contract", s.lastType, ev.Type),
			evidence:    []string{s.lastEventID, ev.ID},
		}}
	}
	return nil
}

// pairingStep detects pairing violations and mutates the open-pair state.
// Detection and mutation live together so that folding stored events through
// the pipeline rebuilds the same pair stacks the live run had.
func pairingStep(s *runState, spec *record.EventSpec, ev record.EmittedEvent) []finding {
	if spec.Pairing == nil {
		return nil
	}

	keyVal, ok := ev.Payload[spec.Pairing.Key]
	if !ok {
		// Missing pair key is already a schema finding; nothing to match on.
		return nil
	}
	encoded, err := record.MarshalValue(keyVal)
	if err != nil {
		return nil
	}
	kv := string(encoded)

	switch spec.Pairing.Role {
	case record.PairingRoleOpen:
		k := pairKey(ev.Type, spec.Pairing.Counterpart, kv)
		s.openPairs[k] = append(s.openPairs[k], ev.ID)
		return nil

	case record.PairingRoleClose:
		k := pairKey(spec.Pairing.Counterpart, ev.Type, kv)
		if stack := s.openPairs[k]; len(stack) > 0 {
			s.openPairs[k] = stack[:len(stack)-1]
			if len(s.openPairs[k]) == 0 {
				delete(s.openPairs, k)
			}
			s.closed[k] = true
			return nil
		}
		if s.closed[k] {
			return []finding{{
				detector:    DetectorDuplicateResponse,
				title:       "duplicate pair close",
				description: fmt.Sprintf("%s with key %s closed a pair that was already closed", ev.Type, kv),
				evidence:    []string{ev.ID},
			}}
		}
		return []finding{{
			detector:    DetectorUnmatchedResponse,
			title:       "unmatched pair close",
			description: fmt.Sprintf("%s with key %s has no open %s to close", ev.Type, kv, spec.Pairing.Counterpart),
			evidence:    []string{ev.ID},
		}}
	}
	return nil
}

// detectUnclosed reports pairs still open when a terminal event ends the run.
// One finding per open occurrence, in deterministic key order, citing the
// open event and the terminal event.
func detectUnclosed(s *runState, terminal record.EmittedEvent) []finding {
	var findings []finding
	for _, k := range s.openKeys() {
		openType, closeType, kv := splitPairKey(k)
		for _, openID := range s.openPairs[k] {
			findings = append(findings, finding{
				detector:    DetectorUnclosed,
				title:       "unclosed pair at terminal",
				description: fmt.Sprintf("%s with key %s was never closed by %s before the run ended", openType, kv, closeType),
				evidence:    []string{openID, terminal.ID},
			})
		}
	}
	return findings
}

// loopStep counts identical (type, payload) occurrences and reports each one
// past the contract's repeat quota, citing the first occurrence and the
// offender.
func loopStep(c *record.Contract, s *runState, ev record.EmittedEvent) []finding {
	key := ev.Type + "\x00" + record.MustPayloadHash(ev.Payload)
	s.repeats[key]++
	if s.repeats[key] == 1 {
		s.repeatFirst[key] = ev.ID
	}
	if s.repeats[key] <= c.MaxRepeats {
		return nil
	}
	return []finding{{
		detector:    DetectorRepeat,
		title:       "repeated event body",
		description: fmt.Sprintf("%s with identical payload repeated %d times, quota is %d", ev.Type, s.repeats[key], c.MaxRepeats),
		evidence:    []string{s.repeatFirst[key], ev.ID},
	}}
}

// detectAuthenticity checks the event's stamps against the engine's own.
func (e *Engine) detectAuthenticity(ev record.EmittedEvent) []finding {
	var findings []finding
	if ev.ContractHash != "" && ev.ContractHash != e.contractHash {
		findings = append(findings, finding{
			detector:    DetectorContractDrift,
			title:       "contract drift",
			description: fmt.Sprintf("event was sealed under contract %s, engine holds %s", shortHash(ev.ContractHash), shortHash(e.contractHash)),
			evidence:    []string{ev.ID},
		})
	}
	if e.expectOrigin != "" && ev.Origin != e.expectOrigin {
		findings = append(findings, finding{
			detector:    DetectorForeignOrigin,
			title:       "unexpected origin",
			description: fmt.Sprintf("event origin is %q, session expects %q", ev.Origin, e.expectOrigin),
			evidence:    []string{ev.ID},
		})
	}
	return findings
}

// runawayDetection builds the per-run quota detection. Its ID carries no
// sequence or evidence, so a run yields at most one regardless of how many
// events arrive past the limit.
func runawayDetection(runToken string, limit, seq int64) record.Detection {
	return record.Detection{
		ID:          record.RunDetectionID(runToken, DetectorRunawayLimit),
		RunToken:    runToken,
		Detector:    DetectorRunawayLimit,
		Category:    record.CategoryRunaway,
		Severity:    record.SeverityCritical,
		Title:       "run event quota exceeded",
		Description: fmt.Sprintf("run exceeded %d events, further events are dropped", limit),
		Evidence:    nil,
		Seq:         seq,
	}
}

// malformedDetection flags a wire frame that could not be decoded into an
// event. The frame is never persisted, so the detection is run-scoped like
// the runaway limit: no seq, no evidence, at most one per run.
func malformedDetection(runToken, detail string) record.Detection {
	return record.Detection{
		ID:          record.RunDetectionID(runToken, DetectorMalformedFrame),
		RunToken:    runToken,
		Detector:    DetectorMalformedFrame,
		Category:    record.CategorySchema,
		Severity:    record.SeverityCritical,
		Title:       "undecodable frame dropped",
		Description: detail,
		Evidence:    nil,
		Seq:         0,
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// valueType names a payload value's contract type.
func valueType(v record.Value) string {
	switch v.(type) {
	case record.String:
		return "string"
	case record.Int:
		return "int"
	case record.Bool:
		return "bool"
	case record.Array:
		return "array"
	case record.Object:
		return "object"
	case record.Null:
		return "null"
	default:
		return "unknown"
	}
}
