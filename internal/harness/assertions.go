package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/goldenpath/internal/queryir"
	"github.com/roach88/goldenpath/internal/querysql"
	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// AssertionError is returned when an assertion fails. It carries enough
// context to debug the failure without re-running the scenario.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for context
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, entry := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", entry.Seq, entry.Type, record.ToAny(entry.Payload))
		}
	}
	return buf.String()
}

// AssertionContext provides store access for final_state assertions and the
// run token for bound filters.
type AssertionContext struct {
	Store    *store.Store
	Ctx      context.Context
	RunToken string
}

// EvaluateAssertions evaluates every assertion against the result and
// returns a message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertDetections:
			err = assertDetections(result.Detections, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires store context", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains checks that an event of the given type appears in the
// trace with a payload carrying at least the asserted fields.
func assertTraceContains(trace []TraceEntry, assertion Assertion) error {
	expected, err := record.ObjectFromAnyMap(assertion.Payload)
	if err != nil {
		return fmt.Errorf("trace_contains payload: %w", err)
	}

	for _, entry := range trace {
		if entry.Type == assertion.Event && payloadSubset(entry.Payload, expected) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s with payload %v", assertion.Event, assertion.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that event types appear in the given relative
// order by first occurrence. Intervening events are allowed.
func assertTraceOrder(trace []TraceEntry, assertion Assertion) error {
	positions := make(map[string]int)
	for i, entry := range trace {
		if _, seen := positions[entry.Type]; !seen {
			positions[entry.Type] = i + 1
		}
	}

	for _, eventType := range assertion.Events {
		if positions[eventType] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", eventType),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev, curr := assertion.Events[i-1], assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the event type appears exactly Count times.
func assertTraceCount(trace []TraceEntry, assertion Assertion) error {
	count := 0
	for _, entry := range trace {
		if entry.Type == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertDetections counts detections matching the optional detector,
// category, and severity filters.
func assertDetections(detections []record.Detection, assertion Assertion) error {
	count := 0
	for _, d := range detections {
		if assertion.Detector != "" && d.Detector != assertion.Detector {
			continue
		}
		if assertion.Category != "" && d.Category != assertion.Category {
			continue
		}
		if assertion.Severity != "" && string(d.Severity) != assertion.Severity {
			continue
		}
		count++
	}

	if count != assertion.Count {
		filter := describeDetectionFilter(assertion)
		return &AssertionError{
			Type:     AssertDetections,
			Expected: fmt.Sprintf("%d detections%s", assertion.Count, filter),
			Actual:   fmt.Sprintf("%d detections", count),
		}
	}
	return nil
}

func describeDetectionFilter(a Assertion) string {
	var parts []string
	if a.Detector != "" {
		parts = append(parts, "detector="+a.Detector)
	}
	if a.Category != "" {
		parts = append(parts, "category="+a.Category)
	}
	if a.Severity != "" {
		parts = append(parts, "severity="+a.Severity)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// assertFinalState queries one table through the query IR and checks that
// exactly one row matches Where and carries the Expect values. The IR
// compiler whitelists identifiers and parameterizes every value.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	query, err := buildStateQuery(assertion)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	sqlc := querysql.NewSQLCompiler()
	sqlText, params, err := sqlc.Compile(query)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	rows, err := actx.Store.Query(actx.Ctx, sqlText, params...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	bindings, err := querysql.ScanBindings(rows)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	whereDesc := formatWhere(assertion.Where)
	if len(bindings) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	}
	if len(bindings) > 1 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(bindings)),
		}
	}

	row := bindings[0]
	for _, key := range sortedKeys(assertion.Expect) {
		expected, err := record.FromAny(assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("final_state expect %q: %w", key, err)
		}
		actual, ok := row[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist in %s", key, assertion.Table),
				Actual:   "column not present in result",
			}
		}
		if !stateValuesEqual(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %v", key, record.ToAny(expected)),
				Actual:   fmt.Sprintf("%s = %v", key, record.ToAny(actual)),
			}
		}
	}
	return nil
}

// buildStateQuery turns a final_state assertion into a Select. Columns the
// assertion checks become bindings; Where becomes a parameterized
// conjunction.
func buildStateQuery(assertion Assertion) (queryir.Query, error) {
	bindings := make(map[string]string, len(assertion.Expect))
	for key := range assertion.Expect {
		if !queryir.ValidIdentifier(key) {
			return nil, fmt.Errorf("unsafe column name %q", key)
		}
		bindings[key] = key
	}

	var predicates []queryir.Predicate
	for _, key := range sortedKeys(assertion.Where) {
		value, err := record.FromAny(assertion.Where[key])
		if err != nil {
			return nil, fmt.Errorf("where %q: %w", key, err)
		}
		predicates = append(predicates, queryir.Equals{Field: key, Value: value})
	}

	sel := queryir.Select{From: assertion.Table, Bindings: bindings}
	switch len(predicates) {
	case 0:
	case 1:
		sel.Filter = predicates[0]
	default:
		sel.Filter = queryir.And{Predicates: predicates}
	}
	return sel, nil
}

// stateValuesEqual compares an expected scenario value against a scanned
// column value. SQLite stores booleans as integers, so Bool against Int is
// coerced; everything else compares structurally.
func stateValuesEqual(expected, actual record.Value) bool {
	if b, ok := expected.(record.Bool); ok {
		if n, ok := actual.(record.Int); ok {
			return bool(b) == (n != 0)
		}
	}
	return reflect.DeepEqual(expected, actual)
}

// payloadSubset reports whether payload carries every field of expected
// with an equal value. Extra fields in payload are ignored.
func payloadSubset(payload, expected record.Object) bool {
	for key, want := range expected {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
