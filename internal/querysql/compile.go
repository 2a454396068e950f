package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/goldenpath/internal/queryir"
	"github.com/roach88/goldenpath/internal/record"
)

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// Every compiled statement carries a deterministic ORDER BY, and every
// literal travels as a parameter. Identifiers are the one part of a
// statement that cannot be parameterized, so they are checked against
// the queryir whitelist and rejected rather than escaped.
type SQLCompiler struct {
	// BoundValues resolves BoundEquals predicates. Keys follow the
	// "bound.name" convention. Populate directly or via Bind.
	BoundValues map[string]any
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		BoundValues: make(map[string]any),
	}
}

// Bind makes a value available to BoundEquals predicates under
// "bound.<name>".
func (c *SQLCompiler) Bind(name string, v record.Value) error {
	param, err := valueToParam(v)
	if err != nil {
		return fmt.Errorf("bind %s: %w", name, err)
	}
	if c.BoundValues == nil {
		c.BoundValues = make(map[string]any)
	}
	c.BoundValues["bound."+name] = param
	return nil
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Join:
		return c.compileJoin(query)
	case *queryir.Join:
		return c.compileJoin(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select to a full SELECT statement.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	if !queryir.ValidIdentifier(q.From) {
		return "", nil, fmt.Errorf("unsafe table name %q", q.From)
	}

	selectClause, err := c.compileBindings(q.Bindings)
	if err != nil {
		return "", nil, err
	}

	var whereClause string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		whereClause = " WHERE " + filterSQL
		params = filterParams
	}

	orderByClause := " ORDER BY " + strings.Join(orderColumns(q.From), ", ")

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s",
		selectClause,
		q.From,
		whereClause,
		orderByClause)

	return sql, params, nil
}

// compileBindings converts a bindings map to a SELECT column list.
// Example: {"id": "event_id"} → "id AS event_id"
// Keys are sorted so the same query always compiles to the same SQL.
func (c *SQLCompiler) compileBindings(bindings map[string]string) (string, error) {
	if len(bindings) == 0 {
		return "*", nil
	}

	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, sourceField := range keys {
		boundVar := bindings[sourceField]
		if !queryir.ValidIdentifier(sourceField) {
			return "", fmt.Errorf("unsafe field name %q", sourceField)
		}
		if !queryir.ValidIdentifier(boundVar) {
			return "", fmt.Errorf("unsafe binding name %q", boundVar)
		}
		if sourceField == boundVar {
			parts = append(parts, sourceField)
		} else {
			parts = append(parts, sourceField+" AS "+boundVar)
		}
	}

	return strings.Join(parts, ", "), nil
}

// orderColumns returns the deterministic sort key for a table. Tables
// carrying a logical seq sort by it first so filtered rows line up with
// replay timelines; everything else sorts by primary key. COLLATE BINARY
// pins text ordering across SQLite builds.
func orderColumns(table string) []string {
	switch table {
	case "events", "detections":
		return []string{"seq ASC", "id ASC COLLATE BINARY"}
	case "runs":
		return []string{"run_token ASC COLLATE BINARY"}
	case "contracts":
		return []string{"hash ASC COLLATE BINARY"}
	case "evidence_edges":
		return []string{"detection_id ASC COLLATE BINARY", "position ASC"}
	case "recovery_policies":
		return []string{"category ASC COLLATE BINARY", "action ASC COLLATE BINARY"}
	default:
		return []string{"id ASC COLLATE BINARY"}
	}
}

// compilePredicate compiles a queryir.Predicate to a WHERE clause fragment.
// Returns (sql, params, error). Values are never interpolated.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil // Always true
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	case queryir.BoundEquals:
		return c.compileBoundEquals(pred)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate to "field = ?".
func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	if !queryir.ValidIdentifier(eq.Field) {
		return "", nil, fmt.Errorf("unsafe field name %q", eq.Field)
	}

	param, err := valueToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value for %s: %w", eq.Field, err)
	}

	return eq.Field + " = ?", []any{param}, nil
}

// compileAnd compiles an And predicate to a conjunction. The grammar has
// no OR, so the fragments join without parentheses.
func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // Vacuous truth
	}

	var sqlParts []string
	var allParams []any

	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	return strings.Join(sqlParts, " AND "), allParams, nil
}

// compileBoundEquals compiles a BoundEquals predicate to "field = ?" with
// the parameter looked up from BoundValues. An unresolved variable is an
// error here; deferring it produces a placeholder with no parameter and a
// much less useful failure at execution time.
func (c *SQLCompiler) compileBoundEquals(beq queryir.BoundEquals) (string, []any, error) {
	if !queryir.ValidIdentifier(beq.Field) {
		return "", nil, fmt.Errorf("unsafe field name %q", beq.Field)
	}

	val, ok := c.BoundValues[beq.BoundVar]
	if !ok {
		return "", nil, fmt.Errorf("no value bound for %q", beq.BoundVar)
	}

	return beq.Field + " = ?", []any{val}, nil
}

// compileJoin compiles a queryir.Join to a full SELECT over an INNER JOIN.
//
// Both sides must be Select queries; nested joins are not supported by
// this backend. Side filters become the WHERE clause of the joined
// statement. Field names in filters and in the On predicate are left
// unqualified, so they must be unambiguous across the two tables, which
// holds for every table pair in the schema (evidence_edges deliberately
// names its columns detection_id and event_id).
func (c *SQLCompiler) compileJoin(j queryir.Join) (string, []any, error) {
	left := getSelect(j.Left)
	if left == nil {
		return "", nil, fmt.Errorf("join left must be a Select")
	}
	right := getSelect(j.Right)
	if right == nil {
		return "", nil, fmt.Errorf("join right must be a Select")
	}
	if !queryir.ValidIdentifier(left.From) {
		return "", nil, fmt.Errorf("unsafe table name %q", left.From)
	}
	if !queryir.ValidIdentifier(right.From) {
		return "", nil, fmt.Errorf("unsafe table name %q", right.From)
	}

	selectClause, err := c.compileJoinBindings(left.Bindings, right.Bindings)
	if err != nil {
		return "", nil, err
	}

	// Parameters must follow placeholder order in the statement:
	// ON first, then the WHERE built from the side filters.
	var allParams []any

	onSQL := "1 = 1" // Cross join when no condition given
	if j.On != nil {
		sql, onParams, err := c.compilePredicate(j.On)
		if err != nil {
			return "", nil, fmt.Errorf("compile join ON: %w", err)
		}
		onSQL = sql
		allParams = append(allParams, onParams...)
	}

	var whereParts []string
	for _, side := range []*queryir.Select{left, right} {
		if side.Filter == nil {
			continue
		}
		sql, params, err := c.compilePredicate(side.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile %s filter: %w", side.From, err)
		}
		whereParts = append(whereParts, sql)
		allParams = append(allParams, params...)
	}
	var whereClause string
	if len(whereParts) > 0 {
		whereClause = " WHERE " + strings.Join(whereParts, " AND ")
	}

	// Order by the left table's key, qualified since both tables are in
	// scope.
	ordered := orderColumns(left.From)
	for i, col := range ordered {
		ordered[i] = left.From + "." + col
	}

	sql := fmt.Sprintf("SELECT %s FROM %s INNER JOIN %s ON %s%s ORDER BY %s",
		selectClause,
		left.From,
		right.From,
		onSQL,
		whereClause,
		strings.Join(ordered, ", "))

	return sql, allParams, nil
}

// compileJoinBindings merges the two sides' bindings into one column list,
// left side first, each side sorted.
func (c *SQLCompiler) compileJoinBindings(left, right map[string]string) (string, error) {
	if len(left) == 0 && len(right) == 0 {
		return "*", nil
	}

	var parts []string
	for _, bindings := range []map[string]string{left, right} {
		if len(bindings) == 0 {
			continue
		}
		clause, err := c.compileBindings(bindings)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}

	return strings.Join(parts, ", "), nil
}

// getSelect extracts the Select from a Query, or nil if it is not one.
func getSelect(q queryir.Query) *queryir.Select {
	switch query := q.(type) {
	case queryir.Select:
		return &query
	case *queryir.Select:
		return query
	default:
		return nil
	}
}

// valueToParam converts a record.Value to a driver-friendly Go type.
// Containers are rejected; a filter comparing against an array or object
// has no SQL encoding.
func valueToParam(v record.Value) (any, error) {
	switch val := v.(type) {
	case record.String:
		return string(val), nil
	case record.Int:
		return int64(val), nil
	case record.Bool:
		return bool(val), nil
	case record.Null:
		return nil, nil
	case record.Array:
		return nil, fmt.Errorf("array values cannot be SQL parameters")
	case record.Object:
		return nil, fmt.Errorf("object values cannot be SQL parameters")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
