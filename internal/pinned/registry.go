// ABOUTME: Address-keyed registry of strong references to objects held for controllers.
// ABOUTME: Pinning defeats collection; unpinning is queued so callers never wait on cleanup.

package pinned

import (
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/marrowdev/marrow/internal/wire"
)

// ErrNotPinned indicates an instance operation referenced a handle that has
// no pinned entry.
var ErrNotPinned = errors.New("handle not pinned")

// syntheticBit marks handles minted for objects without pointer identity,
// keeping them disjoint from address-derived handles.
const syntheticBit = uint64(1) << 63

// Registry holds a strong reference for every object a controller currently
// references. Entries keep the object alive across garbage collections and
// give the controller a stable token for it. Safe for concurrent use from
// multiple request-handling goroutines.
type Registry struct {
	mu         sync.RWMutex
	entries    map[wire.Handle]any
	byIdentity map[uintptr]wire.Handle

	nextSynthetic atomic.Uint64

	unpinQueue chan wire.Handle
	done       chan struct{}
	closeOnce  sync.Once

	logger *slog.Logger
}

// NewRegistry creates a registry. queueSize bounds the asynchronous unpin
// queue; when the queue is full, unpins degrade to an inline delete rather
// than blocking the caller.
func NewRegistry(queueSize int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Registry{
		entries:    make(map[wire.Handle]any),
		byIdentity: make(map[uintptr]wire.Handle),
		unpinQueue: make(chan wire.Handle, queueSize),
		done:       make(chan struct{}),
		logger:     logger.With("component", "pinned"),
	}
	go r.drainUnpins()
	return r
}

// identity returns the pointer identity of an object, if it has one.
// Pointer-shaped kinds share identity with their referent; everything else
// gets a synthetic handle at pin time. Slices are deliberately excluded:
// two slices over the same backing array share a data pointer but differ
// in length, so the pointer alone is not an identity.
func identity(obj any) (uintptr, bool) {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return v.Pointer(), true
	}
	return 0, false
}

// Pin inserts a strong reference to obj and returns its handle. Pinning the
// same object instance twice returns the same handle.
func (r *Registry) Pin(obj any) wire.Handle {
	id, hasIdentity := identity(obj)

	r.mu.Lock()
	defer r.mu.Unlock()

	if hasIdentity {
		if h, ok := r.byIdentity[id]; ok {
			return h
		}
	}

	var h wire.Handle
	if hasIdentity {
		h = wire.Handle(id)
	} else {
		h = wire.Handle(r.nextSynthetic.Add(1) | syntheticBit)
	}

	r.entries[h] = obj
	if hasIdentity {
		r.byIdentity[id] = h
	}

	r.logger.Debug("object pinned", "handle", uint64(h), "total", len(r.entries))
	return h
}

// TryGet returns the pinned object for a handle.
func (r *Registry) TryGet(h wire.Handle) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.entries[h]
	return obj, ok
}

// Unpin releases a handle. The release is queued and performed by a
// background worker so the caller never waits on cleanup; if the queue is
// full the entry is removed inline instead of blocking.
func (r *Registry) Unpin(h wire.Handle) {
	select {
	case r.unpinQueue <- h:
	default:
		r.remove(h)
	}
}

// drainUnpins services the queued releases.
func (r *Registry) drainUnpins() {
	for {
		select {
		case h := <-r.unpinQueue:
			r.remove(h)
		case <-r.done:
			return
		}
	}
}

func (r *Registry) remove(h wire.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.entries[h]
	if !ok {
		return
	}
	delete(r.entries, h)
	if id, hasIdentity := identity(obj); hasIdentity {
		delete(r.byIdentity, id)
	}
	r.logger.Debug("object unpinned", "handle", uint64(h), "total", len(r.entries))
}

// UnpinAll releases every outstanding strong reference. Called once at agent
// shutdown.
func (r *Registry) UnpinAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	r.entries = make(map[wire.Handle]any)
	r.byIdentity = make(map[uintptr]wire.Handle)
	if n > 0 {
		r.logger.Info("released all pinned objects", "count", n)
	}
}

// Count returns the number of pinned entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the background unpin worker. Safe to call multiple times.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
