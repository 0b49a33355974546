package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Result is a decoded provider response. Every Result carries "status"
// ("1" success, "0" failure) and usually "info".
type Result map[string]any

// Failure builds a {status:"0", info} result.
func Failure(info string) Result {
	return Result{"status": "0", "info": info}
}

// Failuref is Failure with formatting.
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// Status returns the status field as a string. The provider sends "1" but
// numeric and boolean forms are accepted.
func (r Result) Status() string {
	switch v := r["status"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// OK reports status "1".
func (r Result) OK() bool { return r.Status() == "1" }

// Info returns the info field, or "".
func (r Result) Info() string {
	s, _ := r["info"].(string)
	return s
}

// Has reports whether key is present and not empty.
func (r Result) Has(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case string:
		return t != ""
	}
	return true
}

// List returns key as a slice of objects, skipping non-object items.
func (r Result) List(key string) []map[string]any {
	items, _ := r[key].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
