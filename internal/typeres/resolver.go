// ABOUTME: Resolves type names to live reflect.Type descriptors across registered modules.
// ABOUTME: Also owns per-type registrations: constructors, statics, generic method instantiations.

package typeres

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrTypeNotFound indicates no registered type matched the requested name.
var ErrTypeNotFound = errors.New("type not found")

// Descriptor is a resolved, reflection-usable identifier for a type.
type Descriptor struct {
	Name   string
	Module string
	Type   reflect.Type
}

// GenericMethod exposes a generic method through pre-registered
// instantiations, since reflection cannot instantiate type parameters at
// runtime. Instantiations are keyed by the comma-joined type argument names.
type GenericMethod struct {
	Name           string
	TypeParams     []string
	Instantiations map[string]any // func(receiver, args...) shapes
}

type entry struct {
	desc         Descriptor
	constructors []reflect.Value
	statics      map[string]reflect.Value // name -> pointer to variable
	staticFuncs  map[string]reflect.Value
	generics     map[string]GenericMethod
}

// Resolver maps type names (optionally qualified as "module!name") to
// descriptors. State is explicitly owned and injectable: construct one per
// agent, Clear on shutdown.
type Resolver struct {
	mu      sync.RWMutex
	byKey   map[string]*entry // "module!name"
	byName  map[string]*entry // bare name, first registration wins
	byType  map[reflect.Type]*entry
	resolve sync.Map // name -> Descriptor cache
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		byKey:  make(map[string]*entry),
		byName: make(map[string]*entry),
		byType: make(map[reflect.Type]*entry),
	}
}

// TypeName returns the canonical name for a type: the package path qualified
// name for named types, with a "*" prefix per pointer level.
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeName(t.Elem())
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Register adds a type under the given module label. The bare name is also
// resolvable as long as it is unambiguous; when two modules register the
// same bare name, the first registration wins for unqualified lookups.
func (r *Resolver) Register(module string, t reflect.Type) Descriptor {
	name := TypeName(t)
	desc := Descriptor{Name: name, Module: module, Type: t}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byType[t]
	if !ok {
		e = &entry{
			desc:        desc,
			statics:     make(map[string]reflect.Value),
			staticFuncs: make(map[string]reflect.Value),
			generics:    make(map[string]GenericMethod),
		}
		r.byType[t] = e
	}

	r.byKey[module+"!"+name] = e
	if _, exists := r.byName[name]; !exists {
		r.byName[name] = e
	}
	return e.desc
}

// Resolve maps a type name to its descriptor. Names may be qualified as
// "module!name". Results are cached per resolver instance.
func (r *Resolver) Resolve(name string) (Descriptor, error) {
	if cached, ok := r.resolve.Load(name); ok {
		return cached.(Descriptor), nil
	}

	r.mu.RLock()
	e, ok := r.byKey[name]
	if !ok {
		e, ok = r.byName[name]
	}
	r.mu.RUnlock()

	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrTypeNotFound, name)
	}

	r.resolve.Store(name, e.desc)
	return e.desc, nil
}

// LookupByType returns the descriptor for a registered type.
func (r *Resolver) LookupByType(t reflect.Type) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byType[t]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// RegisterConstructor adds a constructor function for a registered type.
// fn must be a func returning the type (optionally with a trailing error).
func (r *Resolver) RegisterConstructor(t reflect.Type, fn any) error {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return fmt.Errorf("constructor for %s is not a func", TypeName(t))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byType[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTypeNotFound, TypeName(t))
	}
	e.constructors = append(e.constructors, fv)
	return nil
}

// Constructors returns the registered constructors for a type.
func (r *Resolver) Constructors(t reflect.Type) []reflect.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byType[t]
	if !ok {
		return nil
	}
	out := make([]reflect.Value, len(e.constructors))
	copy(out, e.constructors)
	return out
}

// RegisterStatic exposes a package-level variable as a static field of the
// type. ptr must be a pointer to the variable so sets write through.
func (r *Resolver) RegisterStatic(t reflect.Type, name string, ptr any) error {
	pv := reflect.ValueOf(ptr)
	if pv.Kind() != reflect.Pointer {
		return fmt.Errorf("static %s.%s must be registered through a pointer", TypeName(t), name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byType[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTypeNotFound, TypeName(t))
	}
	e.statics[name] = pv
	return nil
}

// Static returns the pointer to a registered static field.
func (r *Resolver) Static(t reflect.Type, name string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byType[t]
	if !ok {
		return reflect.Value{}, false
	}
	pv, ok := e.statics[name]
	return pv, ok
}

// RegisterStaticFunc exposes a package-level function as a static method of
// the type.
func (r *Resolver) RegisterStaticFunc(t reflect.Type, name string, fn any) error {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return fmt.Errorf("static func %s.%s is not a func", TypeName(t), name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byType[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTypeNotFound, TypeName(t))
	}
	e.staticFuncs[name] = fv
	return nil
}

// StaticFunc returns a registered static function of the type.
func (r *Resolver) StaticFunc(t reflect.Type, name string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byType[t]
	if !ok {
		return reflect.Value{}, false
	}
	fv, ok := e.staticFuncs[name]
	return fv, ok
}

// RegisterGeneric attaches a generic method (with its instantiation table)
// to a registered type.
func (r *Resolver) RegisterGeneric(t reflect.Type, m GenericMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byType[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTypeNotFound, TypeName(t))
	}
	e.generics[m.Name] = m
	return nil
}

// Generic looks up a generic method registered on the type.
func (r *Resolver) Generic(t reflect.Type, name string) (GenericMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byType[t]
	if !ok {
		return GenericMethod{}, false
	}
	m, ok := e.generics[name]
	return m, ok
}

// Clear drops every registration and cached resolution. Called at agent
// shutdown so tests can construct isolated instances.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKey = make(map[string]*entry)
	r.byName = make(map[string]*entry)
	r.byType = make(map[reflect.Type]*entry)
	r.resolve = sync.Map{}
}
