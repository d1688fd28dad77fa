package paramtree

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// coerce converts v into the canonical representation of t:
// bool, int64, float64, string or []byte for scalars and the matching
// typed slice for arrays. The only implicit conversion is integer to
// float widening; anything else fails with ErrTypeMismatch.
func coerce(t Type, v any) (any, error) {
	if !t.IsArray() {
		return coerceScalar(t.Kind, v)
	}

	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: expected %s, got %T", ErrTypeMismatch, t, v)
	}
	// A []byte is a scalar bytes value, never an array of ints.
	if _, isBytes := v.([]byte); isBytes {
		return nil, fmt.Errorf("%w: expected %s, got bytes", ErrTypeMismatch, t)
	}
	if rv.Len() != t.Len {
		return nil, fmt.Errorf("%w: expected %d elements for %s, got %d", ErrTypeMismatch, t.Len, t, rv.Len())
	}

	elems := make([]any, rv.Len())
	for i := range elems {
		e, err := coerceScalar(t.Kind, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems[i] = e
	}
	return typedSlice(t.Kind, elems), nil
}

// coerceScalar converts a single element to its canonical form.
func coerceScalar(k Kind, v any) (any, error) {
	switch k {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case KindFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBytes:
		switch b := v.(type) {
		case []byte:
			return append([]byte(nil), b...), nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("%w: bytes must be base64 encoded: %w", ErrTypeMismatch, err)
			}
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, k, describe(v))
}

// toInt64 accepts any Go integer type and integral json.Number literals.
// Floating point values are rejected even when integral.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func uintToInt64(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

// toFloat64 accepts floats and widens integers.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// typedSlice packs canonical elements into the slice type for k.
func typedSlice(k Kind, elems []any) any {
	switch k {
	case KindBool:
		out := make([]bool, len(elems))
		for i, e := range elems {
			out[i] = e.(bool)
		}
		return out
	case KindInt:
		out := make([]int64, len(elems))
		for i, e := range elems {
			out[i] = e.(int64)
		}
		return out
	case KindFloat:
		out := make([]float64, len(elems))
		for i, e := range elems {
			out[i] = e.(float64)
		}
		return out
	case KindString:
		out := make([]string, len(elems))
		for i, e := range elems {
			out[i] = e.(string)
		}
		return out
	default:
		out := make([][]byte, len(elems))
		for i, e := range elems {
			out[i] = e.([]byte)
		}
		return out
	}
}

// elements unpacks a canonical value into its scalar elements.
func elements(v any) []any {
	switch s := v.(type) {
	case []bool:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []int64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case [][]byte:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return []any{v}
	}
}

// cloneValue deep-copies a canonical value so callers never alias
// storage held by the tree.
func cloneValue(v any) any {
	switch s := v.(type) {
	case []byte:
		return append([]byte(nil), s...)
	case []bool:
		return append([]bool(nil), s...)
	case []int64:
		return append([]int64(nil), s...)
	case []float64:
		return append([]float64(nil), s...)
	case []string:
		return append([]string(nil), s...)
	case [][]byte:
		out := make([][]byte, len(s))
		for i, b := range s {
			out[i] = append([]byte(nil), b...)
		}
		return out
	default:
		return v
	}
}

// wireValue converts a canonical value to its serialisable form.
// Bytes are rendered as base64 strings so every representation agrees.
func wireValue(v any) any {
	switch s := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(s)
	case [][]byte:
		out := make([]string, len(s))
		for i, b := range s {
			out[i] = base64.StdEncoding.EncodeToString(b)
		}
		return out
	default:
		return cloneValue(v)
	}
}

// equalValues compares two canonical scalar values.
func equalValues(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && string(ab) == string(bb)
	}
	return a == b
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case json.Number:
		return "number " + v.(json.Number).String()
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
