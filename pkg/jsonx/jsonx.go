// Package jsonx provides small JSON helpers used across the project.
package jsonx

import "encoding/json"

// WrapResult normalizes a handler return value into an object. Maps pass
// through; any other JSON-serialisable value is wrapped as {"value": v}.
func WrapResult(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// MustMarshal marshals v, falling back to an empty object on error. Only
// for values already known to be JSON-serialisable.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
