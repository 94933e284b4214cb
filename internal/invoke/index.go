// ABOUTME: Indexed access into arrays, slices, strings, maps, and enumerables.
// ABOUTME: Enumerables without random access use early-exit iteration, never full materialization.

package invoke

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/marrowdev/marrow/internal/wire"
)

// Enumerable is the sequence protocol for targets without random access.
// Iterate returns a pull function yielding elements in order.
type Enumerable interface {
	Iterate() func() (any, bool)
}

// Index reads one element of a pinned collection. Arrays, slices, and
// strings index by position with explicit range checking; maps index by key;
// Enumerable targets are iterated only up to the requested position.
func (s *Surface) Index(req wire.IndexRequest) (wire.Value, error) {
	v, err := s.instance(req.Handle)
	if err != nil {
		return wire.Value{}, err
	}

	// An enumerable-only target stays an enumerable even behind a pointer.
	if e, ok := v.Interface().(Enumerable); ok {
		return s.indexEnumerable(e, req.Key)
	}

	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return wire.Value{}, fmt.Errorf("%w: nil target", ErrInvocation)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		return s.indexPositional(v, req.Key)
	case reflect.Map:
		return s.indexMap(v, req.Key)
	}

	return wire.Value{}, fmt.Errorf("%w: %s is not indexable", ErrResolution, v.Type())
}

func (s *Surface) indexPositional(v reflect.Value, key wire.Value) (wire.Value, error) {
	idx, err := positionOf(key)
	if err != nil {
		return wire.Value{}, err
	}
	// Strings index by rune so multibyte content survives the round trip.
	if v.Kind() == reflect.String {
		runes := []rune(v.String())
		if idx < 0 || idx >= len(runes) {
			return wire.Value{}, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, idx, len(runes))
		}
		return s.encode(reflect.ValueOf(string(runes[idx])), true), nil
	}

	if idx < 0 || idx >= v.Len() {
		return wire.Value{}, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, idx, v.Len())
	}
	return s.encode(v.Index(idx), true), nil
}

func (s *Surface) indexMap(v reflect.Value, key wire.Value) (wire.Value, error) {
	kv, err := s.decode(key, v.Type().Key())
	if err != nil {
		return wire.Value{}, err
	}

	ev := v.MapIndex(kv)
	if !ev.IsValid() {
		return wire.Value{}, fmt.Errorf("%w: key %v not present", ErrOutOfRange, kv)
	}
	return s.encode(ev, true), nil
}

// indexEnumerable walks the sequence and stops at the requested index.
func (s *Surface) indexEnumerable(e Enumerable, key wire.Value) (wire.Value, error) {
	idx, err := positionOf(key)
	if err != nil {
		return wire.Value{}, err
	}
	if idx < 0 {
		return wire.Value{}, fmt.Errorf("%w: index %d", ErrOutOfRange, idx)
	}

	next := e.Iterate()
	for i := 0; ; i++ {
		elem, ok := next()
		if !ok {
			return wire.Value{}, fmt.Errorf("%w: index %d, sequence ended at %d", ErrOutOfRange, idx, i)
		}
		if i == idx {
			return s.encode(reflect.ValueOf(elem), true), nil
		}
	}
}

func positionOf(key wire.Value) (int, error) {
	if key.Kind != wire.KindPrimitive {
		return 0, fmt.Errorf("%w: positional index must be a primitive integer", ErrResolution)
	}
	idx, err := strconv.Atoi(key.Raw)
	if err != nil {
		return 0, fmt.Errorf("%w: bad index %q: %v", ErrResolution, key.Raw, err)
	}
	return idx, nil
}
