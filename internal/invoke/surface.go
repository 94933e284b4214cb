// ABOUTME: Reflection-based operation surface: field/property access and method invocation.
// ABOUTME: Decodes wire arguments, resolves members by name and argument types, and pins results.

package invoke

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/typeres"
	"github.com/marrowdev/marrow/internal/wire"
)

// Operation errors.
var (
	// ErrResolution indicates a type, member, or generic argument could not
	// be resolved to something invocable.
	ErrResolution = errors.New("resolution failure")

	// ErrInvocation indicates the reflective call itself failed; the
	// innermost cause is wrapped.
	ErrInvocation = errors.New("invocation fault")

	// ErrOutOfRange indicates an index past the end of a collection.
	ErrOutOfRange = errors.New("index out of range")
)

// Surface exposes the reflection operations to the dispatcher. All state it
// touches lives in the injected registries.
type Surface struct {
	pins   *pinned.Registry
	types  *typeres.Resolver
	logger *slog.Logger
}

// NewSurface creates the invocation surface over the given registries.
func NewSurface(pins *pinned.Registry, types *typeres.Resolver, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		pins:   pins,
		types:  types,
		logger: logger.With("component", "invoke"),
	}
}

// instance returns the live reflect value behind a pinned handle. Instance
// operations on unpinned handles are rejected.
func (s *Surface) instance(h wire.Handle) (reflect.Value, error) {
	obj, ok := s.pins.TryGet(h)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %#x", pinned.ErrNotPinned, uint64(h))
	}
	return reflect.ValueOf(obj), nil
}

// GetField reads a field. Instance targets must be pinned; static targets
// resolve through the type's registered statics by name alone.
func (s *Surface) GetField(h wire.Handle, typeName, field string) (wire.Value, error) {
	if h == 0 {
		return s.getStatic(typeName, field)
	}

	v, err := s.instance(h)
	if err != nil {
		return wire.Value{}, err
	}

	fv, err := fieldOf(v, field)
	if err != nil {
		return wire.Value{}, err
	}
	return s.encode(fv, true), nil
}

// SetField writes a field and returns the freshly read-back value, so any
// coercion performed by the runtime is visible to the controller.
func (s *Surface) SetField(h wire.Handle, typeName, field string, val wire.Value) (wire.Value, error) {
	if h == 0 {
		return s.setStatic(typeName, field, val)
	}

	v, err := s.instance(h)
	if err != nil {
		return wire.Value{}, err
	}

	fv, err := fieldOf(v, field)
	if err != nil {
		return wire.Value{}, err
	}
	if !fv.CanSet() {
		return wire.Value{}, fmt.Errorf("%w: field %q is not settable (target must be pinned as a pointer)", ErrResolution, field)
	}

	arg, err := s.decode(val, fv.Type())
	if err != nil {
		return wire.Value{}, err
	}
	fv.Set(arg)

	return s.encode(fv, true), nil
}

func (s *Surface) getStatic(typeName, field string) (wire.Value, error) {
	pv, err := s.staticPtr(typeName, field)
	if err != nil {
		return wire.Value{}, err
	}
	return s.encode(pv.Elem(), true), nil
}

func (s *Surface) setStatic(typeName, field string, val wire.Value) (wire.Value, error) {
	pv, err := s.staticPtr(typeName, field)
	if err != nil {
		return wire.Value{}, err
	}

	arg, err := s.decode(val, pv.Elem().Type())
	if err != nil {
		return wire.Value{}, err
	}
	pv.Elem().Set(arg)
	return s.encode(pv.Elem(), true), nil
}

func (s *Surface) staticPtr(typeName, field string) (reflect.Value, error) {
	desc, err := s.types.Resolve(typeName)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	pv, ok := s.types.Static(desc.Type, field)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: no static %q on %s", ErrResolution, field, typeName)
	}
	return pv, nil
}

// fieldOf walks to a named exported field, dereferencing pointers.
func fieldOf(v reflect.Value, name string) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil target", ErrInvocation)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s has no fields", ErrResolution, v.Type())
	}
	fv := v.FieldByName(name)
	if !fv.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: no field %q on %s", ErrResolution, name, v.Type())
	}
	return fv, nil
}

// Invoke resolves and calls a method. Instance calls require a pinned
// handle; static calls name the type and resolve a registered function.
// Generic methods are selected through their instantiation tables and must
// receive a full set of type arguments.
func (s *Surface) Invoke(req wire.InvokeRequest) (wire.InvokeResponse, error) {
	if req.Handle == 0 {
		return s.invokeStatic(req)
	}

	v, err := s.instance(req.Handle)
	if err != nil {
		return wire.InvokeResponse{}, err
	}

	// Generic methods take priority: they are registered explicitly and are
	// invisible to plain reflection.
	if g, ok := s.genericFor(v.Type(), req.Method); ok {
		return s.invokeGeneric(v, g, req)
	}

	m := v.MethodByName(req.Method)
	if !m.IsValid() {
		return wire.InvokeResponse{}, fmt.Errorf("%w: no method %q on %s", ErrResolution, req.Method, typeres.TypeName(v.Type()))
	}
	if len(req.TypeArgs) > 0 {
		return wire.InvokeResponse{}, fmt.Errorf("%w: method %q is not generic", ErrResolution, req.Method)
	}

	args, err := s.decodeArgs(req.Args, m.Type(), 0)
	if err != nil {
		return wire.InvokeResponse{}, err
	}

	out, err := s.callWithAffinity(v, m, args)
	if err != nil {
		return wire.InvokeResponse{}, err
	}
	return s.results(out)
}

func (s *Surface) invokeStatic(req wire.InvokeRequest) (wire.InvokeResponse, error) {
	desc, err := s.types.Resolve(req.TypeName)
	if err != nil {
		return wire.InvokeResponse{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	fn, ok := s.types.StaticFunc(desc.Type, req.Method)
	if !ok {
		return wire.InvokeResponse{}, fmt.Errorf("%w: no static method %q on %s", ErrResolution, req.Method, req.TypeName)
	}

	args, err := s.decodeArgs(req.Args, fn.Type(), 0)
	if err != nil {
		return wire.InvokeResponse{}, err
	}

	out, err := call(fn, args)
	if err != nil {
		return wire.InvokeResponse{}, err
	}
	return s.results(out)
}

func (s *Surface) genericFor(t reflect.Type, name string) (typeres.GenericMethod, bool) {
	if g, ok := s.types.Generic(t, name); ok {
		return g, true
	}
	// Instantiations may be registered against the element type.
	if t.Kind() == reflect.Pointer {
		return s.types.Generic(t.Elem(), name)
	}
	return typeres.GenericMethod{}, false
}

// invokeGeneric applies concrete type arguments to a generic method. A
// generic definition invoked without a complete set of type arguments is a
// hard resolution failure, never attempted.
func (s *Surface) invokeGeneric(recv reflect.Value, g typeres.GenericMethod, req wire.InvokeRequest) (wire.InvokeResponse, error) {
	if len(req.TypeArgs) == 0 {
		return wire.InvokeResponse{}, fmt.Errorf("%w: method %q is a generic definition and requires %d type argument(s)",
			ErrResolution, g.Name, len(g.TypeParams))
	}
	if len(req.TypeArgs) != len(g.TypeParams) {
		return wire.InvokeResponse{}, fmt.Errorf("%w: method %q takes %d type argument(s), got %d",
			ErrResolution, g.Name, len(g.TypeParams), len(req.TypeArgs))
	}

	key := strings.Join(req.TypeArgs, ",")
	impl, ok := g.Instantiations[key]
	if !ok {
		return wire.InvokeResponse{}, fmt.Errorf("%w: method %q has no instantiation for [%s]", ErrResolution, g.Name, key)
	}

	fn := reflect.ValueOf(impl)
	// Instantiations take the receiver as their first parameter.
	args, err := s.decodeArgs(req.Args, fn.Type(), 1)
	if err != nil {
		return wire.InvokeResponse{}, err
	}
	args = append([]reflect.Value{recv}, args...)

	out, err := s.callWithAffinity(recv, fn, args)
	if err != nil {
		return wire.InvokeResponse{}, err
	}
	return s.results(out)
}

// decodeArgs checks arity against the function signature (null arguments
// are wildcards) and decodes each wire value into the parameter type.
// skipIn skips leading parameters (a prepended receiver).
func (s *Surface) decodeArgs(args []wire.Value, ft reflect.Type, skipIn int) ([]reflect.Value, error) {
	want := ft.NumIn() - skipIn
	variadic := ft.IsVariadic()

	if variadic {
		if len(args) < want-1 {
			return nil, fmt.Errorf("%w: expected at least %d argument(s), got %d", ErrResolution, want-1, len(args))
		}
	} else if len(args) != want {
		return nil, fmt.Errorf("%w: expected %d argument(s), got %d", ErrResolution, want, len(args))
	}

	out := make([]reflect.Value, len(args))
	for i, a := range args {
		idx := i + skipIn
		var pt reflect.Type
		if variadic && idx >= ft.NumIn()-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(idx)
		}
		av, err := s.decode(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = av
	}
	return out, nil
}

// decode converts one wire value into a runtime value of the target type.
func (s *Surface) decode(v wire.Value, target reflect.Type) (reflect.Value, error) {
	switch v.Kind {
	case wire.KindNull:
		switch target.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: null argument for non-nilable %s", ErrResolution, target)

	case wire.KindHandle:
		obj, ok := s.pins.TryGet(v.Handle)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: argument handle %#x", pinned.ErrNotPinned, uint64(v.Handle))
		}
		ov := reflect.ValueOf(obj)
		if !ov.Type().AssignableTo(target) {
			return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrResolution, ov.Type(), target)
		}
		return ov, nil

	case wire.KindPrimitive:
		if target.Kind() == reflect.Interface && target.NumMethod() == 0 {
			return primitiveByHint(v)
		}
		pv, err := wire.ParsePrimitive(v.Raw, target)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %v", ErrResolution, err)
		}
		return pv, nil
	}

	return reflect.Value{}, fmt.Errorf("%w: unknown value kind %q", ErrResolution, v.Kind)
}

// primitiveByHint decodes a primitive destined for an empty interface using
// the kind tag the controller sent.
func primitiveByHint(v wire.Value) (reflect.Value, error) {
	var target reflect.Type
	switch v.Type {
	case "bool":
		target = reflect.TypeOf(false)
	case "int", "int8", "int16", "int32", "int64":
		target = reflect.TypeOf(int64(0))
	case "uint", "uint8", "uint16", "uint32", "uint64", "uintptr":
		target = reflect.TypeOf(uint64(0))
	case "float32", "float64":
		target = reflect.TypeOf(float64(0))
	case "string", "":
		target = reflect.TypeOf("")
	default:
		return reflect.Value{}, fmt.Errorf("%w: unknown primitive kind %q", ErrResolution, v.Type)
	}
	pv, err := wire.ParsePrimitive(v.Raw, target)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	return pv, nil
}

// encode converts a runtime value into its wire form. Primitives are
// inlined; anything else is pinned when pinLeaf is set, otherwise reported
// as null with no handle created.
func (s *Surface) encode(v reflect.Value, pinLeaf bool) wire.Value {
	if !v.IsValid() {
		return wire.Null()
	}
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if pv, ok := wire.EncodePrimitive(v); ok {
		return pv
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return wire.Null()
		}
	}
	if !pinLeaf {
		return wire.Value{Kind: wire.KindNull, Type: typeres.TypeName(v.Type())}
	}

	obj := v.Interface()
	h := s.pins.Pin(obj)
	return wire.FromHandle(h, typeres.TypeName(v.Type()))
}

// results converts call outputs into an invoke response. A trailing non-nil
// error return is an invocation fault; a nil one is dropped.
func (s *Surface) results(out []reflect.Value) (wire.InvokeResponse, error) {
	if n := len(out); n > 0 {
		last := out[n-1]
		if last.Type() == errType {
			if !last.IsNil() {
				return wire.InvokeResponse{}, fmt.Errorf("%w: %w", ErrInvocation, last.Interface().(error))
			}
			out = out[:n-1]
		}
	}

	if len(out) == 0 {
		return wire.InvokeResponse{Void: true, Result: wire.Null()}, nil
	}
	return wire.InvokeResponse{Result: s.encode(out[0], true)}, nil
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// call performs the reflective invocation, converting panics into structured
// faults carrying the innermost cause.
func call(fn reflect.Value, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				if errors.Is(e, ErrWrongGoroutine) {
					err = e
					return
				}
				err = fmt.Errorf("%w: %w", ErrInvocation, e)
				return
			}
			err = fmt.Errorf("%w: panic: %v", ErrInvocation, r)
		}
	}()

	out = fn.Call(args)
	return out, nil
}
