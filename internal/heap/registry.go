// ABOUTME: In-process heap source backed by objects the host explicitly exposes.
// ABOUTME: Snapshot() returns a point-in-time copy implementing the Source interface.

package heap

import (
	"reflect"
	"sync"

	"github.com/marrowdev/marrow/internal/typeres"
)

// Registry is the built-in heap source. The host adds the object graphs it
// wants reachable from controllers; each Snapshot is an isolated copy of the
// current membership, so later Add/Remove calls do not disturb a snapshot a
// resolver is still reading.
type Registry struct {
	mu      sync.RWMutex
	objects map[uint64]any
	seq     uint64
}

// NewRegistry creates an empty exposure registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[uint64]any)}
}

// addrOf derives the stable address key for an exposed object. Objects with
// pointer identity use their pointer; anything else gets a sequence number
// above the address space the host hands out (the broker treats both
// uniformly as opaque addresses). Slices get sequence addresses because
// slices over a shared backing array share a data pointer.
func (r *Registry) addrOf(obj any) uint64 {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return uint64(v.Pointer())
	}
	r.seq++
	return r.seq | (uint64(1) << 62)
}

// Add exposes an object and returns its address.
func (r *Registry) Add(obj any) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := r.addrOf(obj)
	r.objects[addr] = obj
	return addr
}

// Remove withdraws an object from exposure. Live snapshots are unaffected.
func (r *Registry) Remove(addr uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, addr)
}

// Snapshot returns a point-in-time Source over the current membership.
func (r *Registry) Snapshot() (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.objects))
	for addr, obj := range r.objects {
		obj := obj
		records = append(records, Record{
			Addr:     addr,
			TypeName: typeres.TypeName(reflect.TypeOf(obj)),
			Get:      func() (any, error) { return obj, nil },
		})
	}
	return &memSource{records: records}, nil
}

// Factory adapts the registry to the Manager's SourceFactory shape.
func (r *Registry) Factory() SourceFactory {
	return r.Snapshot
}

// memSource is the in-memory snapshot returned by Registry.Snapshot.
type memSource struct {
	records []Record
}

func (s *memSource) Walk(fn func(Record) bool) error {
	for _, rec := range s.records {
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

func (s *memSource) Close() error {
	s.records = nil
	return nil
}
