package store

import (
	"encoding/json"
	"math"
)

// Clone deep-copies a document so callers never share maps with a backend.
func Clone(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Merge returns a copy of base with the top-level fields of patch applied.
func Merge(base, patch map[string]any) map[string]any {
	out := Clone(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// Int64 reads an integral number field. Backends decode numbers
// differently (json.Number from JSONB, int32/int64 from BSON, float64 from
// plain JSON), so all of them are accepted as long as no precision is lost.
func Int64(data map[string]any, field string) (int64, bool) {
	v, ok := data[field]
	if !ok {
		return 0, false
	}
	return ToInt64(v)
}

// ToInt64 converts a decoded number to int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// String reads a string field.
func String(data map[string]any, field string) (string, bool) {
	s, ok := data[field].(string)
	return s, ok
}
