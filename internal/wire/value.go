// ABOUTME: Wire-level value encoding shared between the broker and controllers.
// ABOUTME: Primitives travel inline as canonical strings; everything else travels as a handle.

package wire

import (
	"fmt"
	"reflect"
	"strconv"
)

// Handle is an opaque, process-local token a controller uses to reference a
// live object inside the host. A handle is only meaningful while the object
// it names is pinned (or otherwise reachable on the heap).
type Handle uint64

// ValueKind discriminates the closed set of argument/result encodings.
type ValueKind string

const (
	KindPrimitive ValueKind = "primitive"
	KindHandle    ValueKind = "handle"
	KindNull      ValueKind = "null"
)

// Value is the tagged variant used for every argument and result on the
// wire. Primitive values are encoded as canonical strings so a controller
// never needs an extra round trip to read a number or string; non-primitive
// values are referenced through a pinned handle.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Type   string    `json:"type,omitempty"`
	Raw    string    `json:"raw,omitempty"`
	Handle Handle    `json:"handle,omitempty"`
}

// Null is the wildcard value. As an argument it decodes to untyped nil and
// matches any nilable parameter type.
func Null() Value {
	return Value{Kind: KindNull}
}

// FromHandle builds a handle-reference value.
func FromHandle(h Handle, typeName string) Value {
	return Value{Kind: KindHandle, Type: typeName, Handle: h}
}

// IsPrimitive reports whether a runtime value can be inlined on the wire.
func IsPrimitive(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	}
	return false
}

// EncodePrimitive converts a primitive runtime value into its canonical
// inline form. Integers are base-10, floats use the shortest 'g'
// representation, bools are "true"/"false", strings travel verbatim.
// Returns false if the value is not primitive.
func EncodePrimitive(v reflect.Value) (Value, bool) {
	if !IsPrimitive(v) {
		return Value{}, false
	}

	var raw string
	switch v.Kind() {
	case reflect.Bool:
		raw = strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		raw = strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		raw = strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		raw = strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		raw = strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.String:
		raw = v.String()
	}

	return Value{Kind: KindPrimitive, Type: v.Kind().String(), Raw: raw}, true
}

// ParsePrimitive decodes an inlined primitive into a value of the target
// type. The target drives the interpretation: the same raw string may decode
// to an int64 parameter or a float64 parameter.
func ParsePrimitive(raw string, target reflect.Type) (reflect.Value, error) {
	out := reflect.New(target).Elem()

	switch target.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("parsing %q as bool: %w", raw, err)
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("parsing %q as %s: %w", raw, target.Kind(), err)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(raw, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("parsing %q as %s: %w", raw, target.Kind(), err)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, target.Bits())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("parsing %q as %s: %w", raw, target.Kind(), err)
		}
		out.SetFloat(f)
	case reflect.String:
		out.SetString(raw)
	default:
		return reflect.Value{}, fmt.Errorf("cannot decode primitive into %s", target)
	}

	return out, nil
}
