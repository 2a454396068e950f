package queryir

import (
	"fmt"

	"github.com/roach88/goldenpath/internal/record"
)

// ValidationResult reports whether a query stays inside the deterministic
// fragment.
//
// The deterministic fragment is the subset of the IR whose result set and
// column order are fully determined by the stored data and the query itself.
// Queries outside it still compile and execute; callers surface the warnings
// so the author knows the result shape leans on the schema or on SQL NULL
// semantics.
type ValidationResult struct {
	// IsDeterministic indicates the query uses only deterministic
	// fragment features.
	IsDeterministic bool

	// Warnings lists the constructs that fall outside the fragment.
	// Empty when IsDeterministic is true.
	Warnings []string
}

// Validate checks a query against the deterministic fragment rules:
//
//  1. No NULL comparisons - SQL NULL never equals anything, so the
//     predicate silently matches zero rows
//  2. Explicit bindings - SELECT * makes the column set a property of
//     the schema instead of the query
//  3. Inner joins only - already guaranteed by the Join type
//
// Validate is a pure function with no side effects. It does not check
// identifiers; the compiler rejects unsafe names outright rather than
// warning about them.
func Validate(query Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		IsDeterministic: len(v.warnings) == 0,
		Warnings:        v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

// addWarning appends a warning message.
func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// validateQuery recursively validates a query node.
func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addWarning("nil query node")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Join:
		v.validateJoin(query)
	case *Join:
		v.validateJoin(*query)
	default:
		v.addWarning("unknown query type %T", q)
	}
}

// validateSelect validates a Select query node.
func (v *validator) validateSelect(sel Select) {
	if len(sel.Bindings) == 0 {
		v.addWarning("empty bindings on %q compile to SELECT *; the column set then depends on the schema", sel.From)
	}

	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

// validateJoin validates a Join query node.
func (v *validator) validateJoin(join Join) {
	// The Join type has no JoinType field, so outer joins cannot be
	// expressed. If one is ever added, reject it here.
	v.validateQuery(join.Left)
	v.validateQuery(join.Right)

	if join.On != nil {
		v.validatePredicate(join.On)
	}
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return // nil predicate means no filter
	}

	switch pred := p.(type) {
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case BoundEquals:
		// Deterministic; whether the variable resolves is checked at
		// compile time, not here.
	case *BoundEquals:
		// Same as above.
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addWarning("unknown predicate type %T", p)
	}
}

// validateEquals validates an Equals predicate.
func (v *validator) validateEquals(eq Equals) {
	if _, isNull := eq.Value.(record.Null); isNull {
		v.addWarning("field %q compared to null; SQL NULL never equals anything, so this matches zero rows", eq.Field)
	}
}

// validateAnd validates an And predicate.
func (v *validator) validateAnd(and And) {
	for _, subPred := range and.Predicates {
		v.validatePredicate(subPred)
	}
}
