package queryir

import "github.com/roach88/goldenpath/internal/record"

// Query represents an abstract query over the event log.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Query types:
//   - Select: Basic table access with filtering and field bindings
//   - Join: Combine two queries with inner join
//
// All queries produce a set of bindings (variable name → value mappings)
// that assertions and report filters consume.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in a query.
//
// This is a sealed interface - only types in this package implement it.
// Predicates are used in Select.Filter and Join.On to filter rows.
//
// Predicate types:
//   - Equals: field = literal_value
//   - BoundEquals: field = bound_variable (supplied by the caller)
//   - And: all predicates must be true
//
// The fragment excludes OR predicates and subqueries. Run separate
// queries when disjunction is needed.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select represents a basic table access query with filtering.
//
// Semantics:
//
//	SELECT <bindings> FROM <from> WHERE <filter>
//
// The Select query:
//  1. Accesses rows from a log table (From)
//  2. Filters rows using a predicate (Filter, optional)
//  3. Binds specific fields to variables (Bindings)
//
// Example (the tool_executing events of one run):
//
//	Select{
//	  From: "events",
//	  Filter: And{Predicates: []Predicate{
//	    BoundEquals{Field: "run_token", BoundVar: "bound.run_token"},
//	    Equals{Field: "type", Value: record.String("tool_executing")},
//	  }},
//	  Bindings: map[string]string{
//	    "id":  "event_id",
//	    "seq": "seq",
//	  },
//	}
//
// Compiles to:
//
//	SELECT id AS event_id, seq FROM events
//	WHERE run_token = ? AND type = ?
//	ORDER BY seq ASC, id ASC COLLATE BINARY
//
// and produces bindings: {"event_id": <value>, "seq": <value>}.
//
// Rules:
//   - From and every field name must satisfy ValidIdentifier
//   - Bindings should be explicit; empty bindings compile to SELECT *
//     and draw a validation warning because the column set then depends
//     on the schema, not the query
type Select struct {
	From     string            // Table name (e.g., "events")
	Filter   Predicate         // WHERE conditions (nil = no filter)
	Bindings map[string]string // source_field → bound_variable
}

func (Select) queryNode() {}

// Join represents an inner join of two queries.
//
// Semantics:
//
//	SELECT * FROM (<left>) JOIN (<right>) ON <on>
//
// Example (detections with the events they cite):
//
//	Join{
//	  Left:  Select{From: "detections", Bindings: map[string]string{"id": "detection_id"}},
//	  Right: Select{From: "evidence_edges", Bindings: map[string]string{"event_id": "event_id"}},
//	  On:    BoundEquals{Field: "detection_id", BoundVar: "bound.detection_id"},
//	}
//
// Rules:
//   - Only INNER joins (a detection without evidence rows simply
//     contributes nothing; there is no NULL-padded half-row to reason about)
//   - Left and Right can be Select or Join (recursive)
//   - On is typically Equals or And of Equals (equi-join)
type Join struct {
	Left  Query     // Left query (any Query type)
	Right Query     // Right query (any Query type)
	On    Predicate // Join condition (nil compiles to a cross join)
}

func (Join) queryNode() {}

// Equals represents a field-equals-literal predicate.
//
// Semantics:
//
//	<field> = <value>
//
// Example:
//
//	Equals{Field: "type", Value: record.String("agent_completed")}
//
// compiles to "type = ?" with the value passed as a parameter, never
// interpolated. The value model carries no floats, so equality is exact;
// comparing against record.Null draws a validation warning because SQL
// NULL never equals anything.
type Equals struct {
	Field string       // Field name in current query source
	Value record.Value // Literal value (no floats by construction)
}

func (Equals) predicateNode() {}

// BoundEquals represents a field-equals-bound-variable predicate.
//
// Semantics:
//
//	<field> = <bound_variable>
//
// The variable is resolved by the caller at compile time, not written
// into the expression. The scenario harness binds the run under test
// this way:
//
//	BoundEquals{Field: "run_token", BoundVar: "bound.run_token"}
//
// so one final_state assertion works for every run the scenario
// produces. BoundVar follows the "bound.name" convention; compilation
// fails if the caller never supplies a value for it.
type BoundEquals struct {
	Field    string // Field name in current query source
	BoundVar string // Caller-supplied variable (e.g., "bound.run_token")
}

func (BoundEquals) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
//
// Semantics:
//
//	<predicate1> AND <predicate2> AND ... AND <predicateN>
//
// Example:
//
//	And{Predicates: []Predicate{
//	  Equals{Field: "type", Value: record.String("tool_completed")},
//	  BoundEquals{Field: "run_token", BoundVar: "bound.run_token"},
//	}}
//
// compiles to "type = ? AND run_token = ?". An empty Predicates slice
// is vacuously true and compiles to "1 = 1". Nested And nodes flatten
// into one conjunction.
type And struct {
	Predicates []Predicate // All must be true (empty = always true)
}

func (And) predicateNode() {}
