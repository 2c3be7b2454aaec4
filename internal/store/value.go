package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Normalize converts v to the representation backends store and compare.
// time.Time becomes Unix seconds and json.Number becomes float64 (or
// int64 when integral). A []string becomes []any. Maps and slices are normalized element-wise.
// Everything else is returned unchanged.
func Normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Unix()
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.Unix()
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case Record:
		return NormalizeRecord(val)
	case map[string]any:
		return map[string]any(NormalizeRecord(Record(val)))
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// NormalizeRecord returns a copy of r with every value normalized.
func NormalizeRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}

// Lookup returns the value of field in r. A dotted name ("address.city")
// is tried as a flat key first and then as a path into a nested object.
func Lookup(r Record, field string) (any, bool) {
	if v, ok := r[field]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}
	switch inner := r[head].(type) {
	case map[string]any:
		return Lookup(Record(inner), rest)
	case Record:
		return Lookup(inner, rest)
	}
	return nil, false
}

// Equal reports whether a and b are the same value after normalization.
// Numbers compare by value regardless of Go type.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	}
	return false
}

// Compare orders a and b. Both must be numbers or both strings; otherwise
// ok is false.
func Compare(a, b any) (cmp int, ok bool) {
	a, b = Normalize(a), Normalize(b)
	if fa, isNum := toFloat(a); isNum {
		fb, isNum := toFloat(b)
		if !isNum {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, isStr := a.(string)
	if !isStr {
		return 0, false
	}
	sb, isStr := b.(string)
	if !isStr {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// IsNumber reports whether v is a Go numeric value.
func IsNumber(v any) bool {
	_, ok := toFloat(Normalize(v))
	return ok
}

// AsFloat returns v as a float64 when it is numeric.
func AsFloat(v any) (float64, bool) {
	return toFloat(Normalize(v))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
