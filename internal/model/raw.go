package model

import (
	"strconv"
	"strings"
)

// RawRecord is a loosely-typed bag of fields produced by an extractor.
// No invariants are enforced here; the normalizer owns validation and
// degradation. Keys follow the extractor field maps (title, description,
// price, currency, image_url, external_id, product_id, product_url, ...).
type RawRecord map[string]any

// Get returns the raw value for key, or nil.
func (r RawRecord) Get(key string) any {
	if r == nil {
		return nil
	}
	return r[key]
}

// Set stores a value, allocating nothing for nil receivers.
func (r RawRecord) Set(key string, val any) {
	if r != nil {
		r[key] = val
	}
}

// SetDefault stores a value only when the key is absent or empty.
func (r RawRecord) SetDefault(key string, val any) {
	if r == nil {
		return
	}
	if cur, ok := r[key]; ok && cur != nil {
		if s, isStr := cur.(string); !isStr || strings.TrimSpace(s) != "" {
			return
		}
	}
	r[key] = val
}

// Str returns the first non-empty string value among the given keys.
// Non-string scalars are not coerced; use Get for those.
func (r RawRecord) Str(keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok {
			if s, ok := v.(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

// Scalar returns the first present scalar among keys rendered as a
// string. Numbers and bools are coerced; whole floats print without a
// fraction. Non-scalar values yield "".
func (r RawRecord) Scalar(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s := ScalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// ScalarString renders a scalar value as a string, or "" for anything else.
func ScalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Strings flattens a value that may be a string, []string, []any, or a
// nested list-of-lists into a flat, trimmed string slice. Empty entries
// are dropped. Order is preserved.
func (r RawRecord) Strings(key string) []string {
	return flattenStrings(r.Get(key))
}

func flattenStrings(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case []string:
		for _, s := range t {
			out = append(out, flattenStrings(s)...)
		}
	case []any:
		for _, e := range t {
			out = append(out, flattenStrings(e)...)
		}
	}
	return out
}
