package repository

import (
	"strings"
	"time"
)

// SplitDocumentPath splits "a/b/c/d" into collection "a/b/c" and id "d".
func SplitDocumentPath(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", ErrInvalidPath
	}
	return path[:idx], path[idx+1:], nil
}

// cloneMap deep-copies nested maps and slices so callers never share state
// with a backend.
func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares filter values loosely: numbers of different Go types
// with the same value are equal, everything else uses ==.
func valuesEqual(a, b any) bool {
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			return fa == fb
		}
		return false
	}
	switch ta := a.(type) {
	case time.Time:
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	case map[string]any, []any:
		return false
	}
	return a == b
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
