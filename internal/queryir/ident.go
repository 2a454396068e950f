package queryir

import "regexp"

// identPattern is the whitelist for table and field names. Identifiers are
// the only part of a compiled query that cannot be parameterized, so anything
// outside this set is rejected rather than escaped.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a table or field name
// in a compiled query. ParseFilter enforces it at parse time and querysql
// enforces it again at compile time, so hand-built Query values get the same
// check as parsed ones.
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}
