// ABOUTME: Heap snapshot manager owning the diagnostic session used for address resolution.
// ABOUTME: Serializes all snapshot access behind one lock and tears snapshots down defensively.

package heap

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
)

// ErrNoSource indicates the manager has no snapshot factory configured.
var ErrNoSource = errors.New("no heap source configured")

// Record describes one live object found by heap enumeration. Get
// materializes a usable reference from the recorded address and type
// descriptor; it may legitimately fail if a collection ran in between.
type Record struct {
	Addr     uint64
	TypeName string
	Get      func() (any, error)
}

// Source is a point-in-time, read-only view of the host's object graph.
// Implementations are not safe for concurrent use; the Manager serializes
// all access.
type Source interface {
	// Walk calls fn for every record until fn returns false.
	Walk(fn func(Record) bool) error
	// Close releases the underlying snapshot resource.
	Close() error
}

// SourceFactory produces a fresh snapshot against the current process state.
type SourceFactory func() (Source, error)

// Hasher lets host objects supply the identity hash used for moved-object
// fallback matching.
type Hasher interface {
	HashCode() uint64
}

// IdentityHash computes the fallback hash for an object: the object's own
// HashCode when it implements Hasher, otherwise an FNV-1a digest of its
// printed form. Best-effort, but deterministic for a given object state.
func IdentityHash(obj any) uint64 {
	if h, ok := obj.(Hasher); ok {
		return h.HashCode()
	}
	d := fnv.New64a()
	fmt.Fprintf(d, "%v", obj)
	return d.Sum64()
}

// Manager owns the lifecycle of the heap snapshot. A snapshot must be
// refreshed before any address-to-object mapping is trusted, because the
// heap may have moved objects since the last one. All reads and refreshes
// share one exclusive lock: the underlying session is not safe for
// concurrent mutation.
type Manager struct {
	mu      sync.Mutex
	factory SourceFactory
	src     Source
	logger  *slog.Logger
}

// NewManager creates a manager over the given snapshot factory.
func NewManager(factory SourceFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory: factory,
		logger:  logger.With("component", "heap"),
	}
}

// Refresh tears down any existing snapshot and creates a new one against the
// current process state.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked()
}

func (m *Manager) refreshLocked() error {
	if m.factory == nil {
		return ErrNoSource
	}

	m.disposeLocked()

	src, err := m.factory()
	if err != nil {
		return fmt.Errorf("creating heap snapshot: %w", err)
	}
	m.src = src
	return nil
}

// WithSnapshot runs fn against the current snapshot under the exclusive
// lock, taking an initial snapshot lazily if none exists yet.
func (m *Manager) WithSnapshot(fn func(Source) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.src == nil {
		if err := m.refreshLocked(); err != nil {
			return err
		}
	}
	return fn(m.src)
}

// Enumerate walks the current snapshot and returns every record, optionally
// filtered by exact type name.
func (m *Manager) Enumerate(typeFilter string) ([]Record, error) {
	var out []Record
	err := m.WithSnapshot(func(src Source) error {
		return src.Walk(func(rec Record) bool {
			if typeFilter == "" || rec.TypeName == typeFilter {
				out = append(out, rec)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dispose releases the snapshot resource. Teardown is defensive: snapshot
// disposal has a history of throwing spurious low-level failures, and a
// disposal failure must never mask the success of the operation that
// preceded it.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposeLocked()
}

func (m *Manager) disposeLocked() {
	if m.src == nil {
		return
	}
	src := m.src
	m.src = nil

	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("suppressed panic during snapshot teardown", "panic", r)
		}
	}()
	if err := src.Close(); err != nil {
		m.logger.Warn("suppressed error during snapshot teardown", "error", err)
	}
}
