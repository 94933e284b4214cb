// ABOUTME: Resolves raw addresses back to live object references and pins them.
// ABOUTME: Retries across snapshot refreshes and falls back to identity-hash matching for moved objects.

package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/marrowdev/marrow/internal/heap"
	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/typeres"
	"github.com/marrowdev/marrow/internal/wire"
)

// Resolution errors, surfaced to the controller as structured failures.
var (
	// ErrMoved signals the object at the address no longer matches the
	// expected type and no disambiguation was possible. The caller must
	// re-resolve from scratch.
	ErrMoved = errors.New("object moved")

	// ErrCollected signals the object could not be found in the heap, or its
	// runtime type changed between snapshot read and materialization.
	ErrCollected = errors.New("object collected")

	// ErrAmbiguous signals the hash fallback matched zero or multiple
	// candidates.
	ErrAmbiguous = errors.New("ambiguous hash match")
)

// Defaults for the snapshot-race retry loop. Empirical tuning values carried
// over as configuration rather than hard-coded semantics.
const (
	DefaultMaxAttempts = 10
	DefaultBackoff     = 100 * time.Millisecond
)

// Materializer turns (address, type name, optional hash) triples into live,
// pinned references.
type Materializer struct {
	pins        *pinned.Registry
	heap        *heap.Manager
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewMaterializer creates a materializer. maxAttempts and backoff bound the
// retry loop that absorbs collections racing with enumeration; zero values
// select the defaults.
func NewMaterializer(pins *pinned.Registry, mgr *heap.Manager, maxAttempts int, backoff time.Duration, logger *slog.Logger) *Materializer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		pins:        pins,
		heap:        mgr,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger.With("component", "resolve"),
	}
}

// Resolve returns a live, pinned reference for the object at addr.
//
// The pinned registry is consulted first (no heap access). Otherwise the
// current snapshot is searched at addr; a type-name match materializes
// directly. A mismatch without a fallback hash is a hard ErrMoved. With a
// hash, the full heap is enumerated filtered by the last-known type name and
// a match is accepted only if exactly one candidate shares the hash. The
// materialized object's runtime type is verified once more afterwards; a
// mismatch there is a hard failure, not retried, because it indicates a race
// the caller cannot safely paper over.
func (m *Materializer) Resolve(ctx context.Context, addr uint64, typeName string, hash *uint64) (any, wire.Handle, error) {
	if obj, ok := m.pins.TryGet(wire.Handle(addr)); ok {
		return obj, wire.Handle(addr), nil
	}

	var lastErr error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.heap.Refresh(); err != nil {
				return nil, 0, err
			}
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(m.backoff):
			}
		}

		obj, err := m.resolveOnce(addr, typeName, hash)
		if err == nil {
			return obj, m.pins.Pin(obj), nil
		}
		// Moved and ambiguous are hard failures of this resolution; only a
		// concurrent collection (object briefly unlocatable) is retried.
		if errors.Is(err, ErrMoved) || errors.Is(err, ErrAmbiguous) {
			return nil, 0, err
		}
		lastErr = err
		m.logger.Debug("resolution attempt failed",
			"address", addr,
			"type", typeName,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, 0, fmt.Errorf("%w (after %d attempts): %v", ErrCollected, m.maxAttempts, lastErr)
}

// resolveOnce performs a single resolution pass against the current snapshot.
func (m *Materializer) resolveOnce(addr uint64, typeName string, hash *uint64) (any, error) {
	var hit *heap.Record

	err := m.heap.WithSnapshot(func(src heap.Source) error {
		return src.Walk(func(rec heap.Record) bool {
			if rec.Addr == addr {
				r := rec
				hit = &r
				return false
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}

	switch {
	case hit != nil && hit.TypeName == typeName:
		return m.materialize(*hit, typeName)
	case hash == nil:
		if hit == nil {
			return nil, fmt.Errorf("%w: no object at address %#x", ErrCollected, addr)
		}
		return nil, fmt.Errorf("%w: address %#x now holds %s, expected %s", ErrMoved, addr, hit.TypeName, typeName)
	default:
		return m.resolveByHash(typeName, *hash)
	}
}

// resolveByHash enumerates the whole heap filtered by the last-known type
// name and accepts a candidate only when exactly one shares the hash.
func (m *Materializer) resolveByHash(typeName string, want uint64) (any, error) {
	var matches []any

	err := m.heap.WithSnapshot(func(src heap.Source) error {
		return src.Walk(func(rec heap.Record) bool {
			if rec.TypeName != typeName {
				return true
			}
			obj, err := rec.Get()
			if err != nil {
				return true
			}
			if heap.IdentityHash(obj) == want {
				matches = append(matches, obj)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 1:
		return m.verify(matches[0], typeName)
	case 0:
		return nil, fmt.Errorf("%w: no %s candidate with hash %d", ErrAmbiguous, typeName, want)
	default:
		return nil, fmt.Errorf("%w: %d %s candidates share hash %d", ErrAmbiguous, len(matches), typeName, want)
	}
}

func (m *Materializer) materialize(rec heap.Record, typeName string) (any, error) {
	obj, err := rec.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollected, err)
	}
	return m.verify(obj, typeName)
}

// verify re-checks the runtime type after materialization. A collection can
// run between the snapshot read and the Get call; a mismatch here is hard.
func (m *Materializer) verify(obj any, typeName string) (any, error) {
	got := typeres.TypeName(reflect.TypeOf(obj))
	if got != typeName {
		return nil, fmt.Errorf("%w: materialized %s, expected %s", ErrMoved, got, typeName)
	}
	return obj, nil
}
