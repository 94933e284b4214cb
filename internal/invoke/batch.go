// ABOUTME: Batch member and batch collection fetch: many dotted paths in one round trip.
// ABOUTME: Primitive leaves are inlined; non-primitive leaves pin (single target) or stay unpinned (per element).

package invoke

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/marrowdev/marrow/internal/wire"
)

// BatchMembers resolves a set of dotted member paths (optionally suffixed
// "|s" for string conversion) against one pinned target. Path failures are
// reported per path, never failing the batch.
func (s *Surface) BatchMembers(req wire.BatchMembersRequest) (wire.BatchMembersResponse, error) {
	v, err := s.instance(req.Handle)
	if err != nil {
		return wire.BatchMembersResponse{}, err
	}

	resp := wire.BatchMembersResponse{Results: make([]wire.BatchMemberResult, 0, len(req.Paths))}
	for _, path := range req.Paths {
		resp.Results = append(resp.Results, s.fetchPath(v, path, true))
	}
	return resp, nil
}

// BatchCollection evaluates member paths against every element of a
// collection target. Non-primitive leaves are deliberately left unpinned
// and returned as null with the path still reported, so a large collection
// fetch does not pin every element.
func (s *Surface) BatchCollection(req wire.BatchCollectionRequest) (wire.BatchCollectionResponse, error) {
	v, err := s.instance(req.Handle)
	if err != nil {
		return wire.BatchCollectionResponse{}, err
	}

	elems, err := elementsOf(v)
	if err != nil {
		return wire.BatchCollectionResponse{}, err
	}

	resp := wire.BatchCollectionResponse{Elements: make([]wire.BatchCollectionElement, 0, len(elems))}
	for i, elem := range elems {
		el := wire.BatchCollectionElement{
			Index:   i,
			Results: make([]wire.BatchMemberResult, 0, len(req.Paths)),
		}
		for _, path := range req.Paths {
			el.Results = append(el.Results, s.fetchPath(elem, path, false))
		}
		resp.Elements = append(resp.Elements, el)
	}
	return resp, nil
}

func elementsOf(v reflect.Value) ([]reflect.Value, error) {
	if e, ok := v.Interface().(Enumerable); ok {
		var out []reflect.Value
		next := e.Iterate()
		for {
			elem, more := next()
			if !more {
				return out, nil
			}
			out = append(out, reflect.ValueOf(elem))
		}
	}

	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil target", ErrInvocation)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]reflect.Value, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = v.Index(i)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s is not a collection", ErrResolution, v.Type())
}

// fetchPath walks one dotted path and encodes the leaf.
func (s *Surface) fetchPath(v reflect.Value, path string, pinLeaf bool) wire.BatchMemberResult {
	spec, stringify := strings.CutSuffix(path, "|s")

	cur := v
	for _, seg := range strings.Split(spec, ".") {
		next, err := member(cur, seg)
		if err != nil {
			return wire.BatchMemberResult{Path: path, Value: wire.Null(), Error: err.Error()}
		}
		cur = next
	}

	if stringify {
		return wire.BatchMemberResult{
			Path:  path,
			Value: wire.Value{Kind: wire.KindPrimitive, Type: "string", Raw: fmt.Sprint(cur.Interface())},
		}
	}

	return wire.BatchMemberResult{Path: path, Value: s.encode(cur, pinLeaf)}
}

// member resolves one path segment: a zero-argument method first (so getter
// methods shadow same-named fields), then an exported field.
func member(v reflect.Value, name string) (reflect.Value, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil value at %q", ErrInvocation, name)
		}
		v = v.Elem()
	}

	if m := v.MethodByName(name); m.IsValid() && m.Type().NumIn() == 0 {
		out, err := call(m, nil)
		if err != nil {
			return reflect.Value{}, err
		}
		if n := len(out); n > 0 && out[n-1].Type() == errType {
			if !out[n-1].IsNil() {
				return reflect.Value{}, fmt.Errorf("%w: %w", ErrInvocation, out[n-1].Interface().(error))
			}
			out = out[:n-1]
		}
		if len(out) == 0 {
			return reflect.Value{}, fmt.Errorf("%w: %q returns nothing", ErrResolution, name)
		}
		return out[0], nil
	}

	return fieldOf(v, name)
}
