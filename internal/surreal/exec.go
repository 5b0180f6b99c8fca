package surreal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Exec runs sql and returns the value of the last statement. The first
// statement with an error status is returned as a *QueryError.
func Exec(ctx context.Context, q Querier, sql string, vars map[string]any) (any, error) {
	values, err := ExecAll(ctx, q, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[len(values)-1], nil
}

// ExecAll runs sql and returns the value of every statement.
func ExecAll(ctx context.Context, q Querier, sql string, vars map[string]any) ([]any, error) {
	results, err := q.Query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(results))
	for i, r := range results {
		if !r.OK() {
			msg := r.Error
			if msg == "" {
				msg = fmt.Sprint(r.Value)
			}
			return nil, &QueryError{Index: i, Message: msg}
		}
		values[i] = r.Value
	}
	return values, nil
}

// Rows flattens a statement value into a list of records. A single object
// becomes a one-element list; NONE becomes an empty list.
func Rows(v any) []map[string]any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return []map[string]any{val}
	case []any:
		rows := make([]map[string]any, 0, len(val))
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		return rows
	case []map[string]any:
		return val
	default:
		return nil
	}
}

// Decode converts a decoded statement value into out through JSON.
func Decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// Ident quotes name as a SurrealQL identifier when it is not a plain word.
func Ident(name string) string {
	plain := name != ""
	for i, r := range name {
		isAlpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if !isAlpha && !(isDigit && i > 0) {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}
