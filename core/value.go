package core

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/holiman/uint256"
)

// MaxValueDepth bounds the nesting of records and arrays.
const MaxValueDepth = 64

// Value kinds accepted in contract state, arguments, results and event payloads.
const (
	KindNull    = "null"
	KindNumber  = "number"
	KindString  = "string"
	KindBoolean = "boolean"
	KindObject  = "object"
	KindArray   = "array"
)

// Normalize converts v into its canonical form: nil, bool, string, int64,
// float64, map[string]any or []any. Integral numbers become int64. The result
// never aliases v. Cycles and values outside the closed set are rejected.
func Normalize(v any) (any, error) {
	n := normalizer{onPath: make(map[pathKey]bool)}
	return n.value(reflect.ValueOf(v), 0)
}

// KindOf reports the kind of a normalized value.
func KindOf(v any) string {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBoolean
	case string:
		return KindString
	case int64, float64:
		return KindNumber
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	}
	return ""
}

// EncodeValue returns the canonical JSON encoding of v. Record keys are
// sorted, so equal values always encode to equal bytes.
func EncodeValue(v any) ([]byte, error) {
	nv, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nv)
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return Normalize(v)
}

type pathKey struct {
	ptr  uintptr
	kind reflect.Kind
	len  int
}

type normalizer struct {
	onPath map[pathKey]bool
}

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

func (n *normalizer) value(rv reflect.Value, depth int) (any, error) {
	if depth > MaxValueDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, MaxValueDepth)
	}
	if !rv.IsValid() {
		return nil, nil
	}

	switch v := rv.Interface().(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrUnsupportedValue, v.String())
		}
		return normalizeFloat(f)
	case *uint256.Int:
		if v == nil {
			return nil, nil
		}
		return v.Dec(), nil
	case Address, Hash:
		return fmt.Sprint(v), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return n.value(rv.Elem(), depth)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Implements(textMarshalerType) {
			return textValue(rv)
		}
		key := pathKey{ptr: rv.Pointer(), kind: reflect.Pointer}
		if n.onPath[key] {
			return nil, ErrCyclicValue
		}
		n.onPath[key] = true
		defer delete(n.onPath, key)
		return n.value(rv.Elem(), depth)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key type %s", ErrUnsupportedValue, rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		key := pathKey{ptr: rv.Pointer(), kind: reflect.Map}
		if n.onPath[key] {
			return nil, ErrCyclicValue
		}
		n.onPath[key] = true
		defer delete(n.onPath, key)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := n.value(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return nil, nil
			}
			key := pathKey{ptr: rv.Pointer(), kind: reflect.Slice, len: rv.Len()}
			if n.onPath[key] {
				return nil, ErrCyclicValue
			}
			n.onPath[key] = true
			defer delete(n.onPath, key)
		}
		out := make([]any, rv.Len())
		for i := range out {
			item, err := n.value(rv.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	}

	if rv.Type().Implements(textMarshalerType) {
		return textValue(rv)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
}

func textValue(rv reflect.Value) (any, error) {
	text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return string(text), nil
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), nil
	}
	return f, nil
}
