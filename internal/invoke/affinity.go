// ABOUTME: Goroutine-affinity handling for objects bound to a specific execution thread.
// ABOUTME: Direct invocation is attempted first; the hop is paid only on a detected violation.

package invoke

import (
	"errors"
	"reflect"
)

// ErrWrongGoroutine is the sentinel an affinity-bound object returns (or
// panics with) when one of its methods is entered from the wrong goroutine.
var ErrWrongGoroutine = errors.New("call from wrong goroutine")

// Affine marks objects whose methods must execute on one specific
// goroutine. RunOn schedules fn onto that goroutine and blocks until it
// completes.
type Affine interface {
	RunOn(fn func())
}

// callWithAffinity tries a direct call and, only when the target signals an
// affinity violation, retries once on the target's required goroutine. The
// common case pays no hop.
func (s *Surface) callWithAffinity(recv, fn reflect.Value, args []reflect.Value) ([]reflect.Value, error) {
	out, err := callDetectingAffinity(fn, args)
	if !errors.Is(err, ErrWrongGoroutine) {
		return out, err
	}

	affine, ok := receiverAffine(recv)
	if !ok {
		return nil, err
	}

	s.logger.Debug("retrying invocation on affinity goroutine")
	var hopOut []reflect.Value
	var hopErr error
	affine.RunOn(func() {
		hopOut, hopErr = callDetectingAffinity(fn, args)
	})
	return hopOut, hopErr
}

// callDetectingAffinity invokes fn and surfaces an affinity violation
// whether it arrives as a panic or as a returned trailing error. Other
// returned errors are left in the outputs for normal result handling.
func callDetectingAffinity(fn reflect.Value, args []reflect.Value) ([]reflect.Value, error) {
	out, err := call(fn, args)
	if err != nil {
		return nil, err
	}

	if n := len(out); n > 0 {
		last := out[n-1]
		if last.Type() == errType && !last.IsNil() {
			if e, ok := last.Interface().(error); ok && errors.Is(e, ErrWrongGoroutine) {
				return nil, e
			}
		}
	}
	return out, nil
}

func receiverAffine(recv reflect.Value) (Affine, bool) {
	if !recv.IsValid() || !recv.CanInterface() {
		return nil, false
	}
	a, ok := recv.Interface().(Affine)
	return a, ok
}
