package querysql

import (
	"database/sql"
	"fmt"

	"github.com/roach88/goldenpath/internal/record"
)

// ScanBindings drains a result set into one record.Object per row, keyed
// by the result column names. Compiled queries alias source fields to
// their bound variable names, so the keys line up with the query's
// bindings. Zero rows is a valid result, not an error.
func ScanBindings(rows *sql.Rows) ([]record.Object, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	bindings := []record.Object{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		binding := make(record.Object, len(columns))
		for i, col := range columns {
			v, err := columnValue(values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			binding[col] = v
		}
		bindings = append(bindings, binding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return bindings, nil
}

// columnValue converts a database/sql value to a record.Value. Floats are
// rejected: nothing in the schema uses REAL columns, and a float here
// would leak into canonical encoding where it has no representation.
func columnValue(v any) (record.Value, error) {
	if v == nil {
		return record.Null{}, nil
	}

	switch val := v.(type) {
	case int64:
		return record.Int(val), nil
	case string:
		return record.String(val), nil
	case []byte:
		return record.String(string(val)), nil
	case bool:
		return record.Bool(val), nil
	case float64:
		return nil, fmt.Errorf("REAL column values are not supported: %v (store integers or text)", val)
	default:
		return nil, fmt.Errorf("unsupported SQL type %T", v)
	}
}
