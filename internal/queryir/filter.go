package queryir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/goldenpath/internal/record"
)

// ParseFilter parses a filter expression into a Predicate.
//
// The grammar is deliberately small:
//
//	expr       = comparison { "AND" comparison }
//	comparison = field "==" value
//	value      = "bound." name | quoted string | integer | bool | bare word
//
// Examples:
//
//	type == agent_started
//	type == 'tool_completed' AND run_token == bound.run_token
//	seq == 42 AND dry_run == false
//
// "AND" is case-insensitive. A "bound." value becomes a BoundEquals whose
// variable the caller resolves at compile time; everything else becomes an
// Equals literal. Bare words are string literals, so quoting is only needed
// when a value contains spaces or looks like a number or bool.
//
// An empty expression returns (nil, nil): no filter, all rows. Field names
// must satisfy ValidIdentifier. Operators other than == (including !=, <, >)
// are rejected, as is OR.
func ParseFilter(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	parts := splitByAnd(expr)
	if len(parts) == 1 {
		return parseComparison(parts[0])
	}

	predicates := make([]Predicate, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty term in filter %q", expr)
		}
		pred, err := parseComparison(part)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, pred)
	}
	return And{Predicates: predicates}, nil
}

// splitByAnd splits a filter expression on the AND keyword, case-insensitive.
// Terms come back trimmed.
func splitByAnd(expr string) []string {
	var parts []string
	remaining := expr
	for {
		idx := strings.Index(strings.ToLower(remaining), " and ")
		if idx == -1 {
			parts = append(parts, strings.TrimSpace(remaining))
			return parts
		}
		parts = append(parts, strings.TrimSpace(remaining[:idx]))
		remaining = remaining[idx+len(" and "):]
	}
}

// parseComparison parses a single "field == value" term.
func parseComparison(term string) (Predicate, error) {
	term = strings.TrimSpace(term)

	if idx := strings.Index(term, "!="); idx != -1 {
		return nil, fmt.Errorf("unsupported operator != in %q (only == is supported)", term)
	}

	field, value, found := strings.Cut(term, "==")
	if !found {
		return nil, fmt.Errorf("expected field == value, got %q", term)
	}
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)

	if !ValidIdentifier(field) {
		return nil, fmt.Errorf("unsafe field name %q", field)
	}
	if value == "" {
		return nil, fmt.Errorf("missing value in %q", term)
	}

	if strings.HasPrefix(value, "bound.") {
		return BoundEquals{Field: field, BoundVar: value}, nil
	}

	if lit, ok := unquote(value); ok {
		return Equals{Field: field, Value: record.String(lit)}, nil
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return Equals{Field: field, Value: record.Int(n)}, nil
	}

	switch value {
	case "true":
		return Equals{Field: field, Value: record.Bool(true)}, nil
	case "false":
		return Equals{Field: field, Value: record.Bool(false)}, nil
	}

	// Bare word: treat as a string literal. Event types and run tokens are
	// the common case and nobody wants to shell-escape quotes for them.
	return Equals{Field: field, Value: record.String(value)}, nil
}

// unquote strips a matched pair of single or double quotes.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1], true
	}
	return "", false
}
