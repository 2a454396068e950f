// Package queryir provides a small sealed query IR for reading the event log.
//
// Filter expressions arrive from two places: the --filter flag on the trace
// and report commands, and the final_state assertions in scenario files. Both
// are user-supplied text, and both ultimately hit the SQLite store. The IR is
// the single safe path between them: expressions are parsed into Query values
// here, validated, and compiled to parameterized SQL by the querysql package.
// Nothing else in the codebase builds SQL from user input.
//
// ARCHITECTURE:
//
//	[--filter / final_state] → [ParseFilter] → [Query IR] → [querysql]
//
// The IR defines a deliberately small fragment of relational algebra:
//
//   - Select(from, filter, bindings) - table access with filtering
//   - Join(left, right, on) - inner joins only
//   - Predicates: Equals, BoundEquals, And
//
// The fragment EXCLUDES:
//
//   - NULL comparisons (SQL three-valued logic makes them never match)
//   - Outer joins (row multiplicity depends on the backend)
//   - OR predicates (run two queries instead)
//   - Aggregations and subqueries
//
// Exclusions are not accidents. Every result the toolkit reports must be
// reproducible from the log alone, so the fragment admits only constructs
// whose row set and order are fully determined by the stored data.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed via unexported marker methods. Only types in
// this package implement them, so the SQL compiler can type-switch
// exhaustively and a new node type forces every backend switch to be
// revisited.
//
//	switch q := query.(type) {
//	case Select:
//	    // Handle select
//	case Join:
//	    // Handle join
//	default:
//	    // Impossible - compiler knows all Query types
//	}
//
// IDENTIFIERS:
//
// Table and field names are the one part of a query that cannot be
// parameterized, so they are confined to the whitelist ^[A-Za-z_][A-Za-z0-9_]*$
// (see ValidIdentifier). ParseFilter rejects anything else at parse time and
// querysql rejects it again at compile time.
package queryir
