// ABOUTME: Object and array construction through registered constructors.
// ABOUTME: Selects a constructor by argument count and types; new instances come back pinned.

package invoke

import (
	"fmt"
	"reflect"

	"github.com/marrowdev/marrow/internal/typeres"
	"github.com/marrowdev/marrow/internal/wire"
)

// Construct builds a new instance of a registered type and returns a handle
// to it. Constructors are matched by argument count and argument types; with
// no registered constructor and no arguments, a zero-valued pointer instance
// is produced.
func (s *Surface) Construct(req wire.ConstructRequest) (wire.ObjectResponse, error) {
	desc, err := s.types.Resolve(req.TypeName)
	if err != nil {
		return wire.ObjectResponse{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}

	obj, err := s.construct(desc, req.Args)
	if err != nil {
		return wire.ObjectResponse{}, err
	}

	h := s.pins.Pin(obj)
	return wire.ObjectResponse{
		Handle:   h,
		TypeName: typeres.TypeName(reflect.TypeOf(obj)),
	}, nil
}

func (s *Surface) construct(desc typeres.Descriptor, args []wire.Value) (any, error) {
	ctors := s.types.Constructors(desc.Type)

	var lastErr error
	for _, ctor := range ctors {
		decoded, err := s.decodeArgs(args, ctor.Type(), 0)
		if err != nil {
			lastErr = err
			continue
		}
		out, err := call(ctor, decoded)
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].Type() == errType {
			if !out[n-1].IsNil() {
				return nil, fmt.Errorf("%w: %w", ErrInvocation, out[n-1].Interface().(error))
			}
			out = out[:n-1]
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: constructor for %s returned nothing", ErrResolution, desc.Name)
		}
		return out[0].Interface(), nil
	}

	if len(ctors) == 0 && len(args) == 0 {
		t := desc.Type
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		return reflect.New(t).Interface(), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: no constructor of %s matched: %v", ErrResolution, desc.Name, lastErr)
	}
	return nil, fmt.Errorf("%w: no constructor of %s takes %d argument(s)", ErrResolution, desc.Name, len(args))
}

// ConstructArray builds a new slice of a registered element type, either
// zero-valued at an explicit length or element-by-element from per-element
// constructor argument sets.
func (s *Surface) ConstructArray(req wire.ConstructArrayRequest) (wire.ObjectResponse, error) {
	desc, err := s.types.Resolve(req.ElementType)
	if err != nil {
		return wire.ObjectResponse{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}

	switch {
	case req.Length != nil && len(req.ElementArgs) > 0:
		return wire.ObjectResponse{}, fmt.Errorf("%w: specify either length or element args, not both", ErrResolution)

	case req.Length != nil:
		if *req.Length < 0 {
			return wire.ObjectResponse{}, fmt.Errorf("%w: negative array length %d", ErrResolution, *req.Length)
		}
		arr := reflect.MakeSlice(reflect.SliceOf(desc.Type), *req.Length, *req.Length)
		return s.pinArray(arr)

	case len(req.ElementArgs) > 0:
		arr := reflect.MakeSlice(reflect.SliceOf(desc.Type), len(req.ElementArgs), len(req.ElementArgs))
		for i, elemArgs := range req.ElementArgs {
			elem, err := s.construct(desc, elemArgs)
			if err != nil {
				return wire.ObjectResponse{}, fmt.Errorf("element %d: %w", i, err)
			}
			ev := reflect.ValueOf(elem)
			if !ev.Type().AssignableTo(desc.Type) {
				return wire.ObjectResponse{}, fmt.Errorf("%w: element %d constructor produced %s, want %s",
					ErrResolution, i, ev.Type(), desc.Type)
			}
			arr.Index(i).Set(ev)
		}
		return s.pinArray(arr)
	}

	return wire.ObjectResponse{}, fmt.Errorf("%w: array construction needs a length or element args", ErrResolution)
}

func (s *Surface) pinArray(arr reflect.Value) (wire.ObjectResponse, error) {
	obj := arr.Interface()
	h := s.pins.Pin(obj)
	return wire.ObjectResponse{
		Handle:   h,
		TypeName: typeres.TypeName(arr.Type()),
	}, nil
}
