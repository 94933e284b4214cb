// ABOUTME: Reusable event emitter hosts can embed to satisfy the Source interface.
// ABOUTME: Tracks named events and attached handlers; Fire invokes handlers synchronously.

package events

import (
	"fmt"
	"sync"
)

// Emitter is a ready-made Source implementation. Embed it in a host type,
// declare the event names, and call Fire when something happens.
type Emitter struct {
	mu       sync.Mutex
	names    []string
	handlers map[string]map[int]func(sender, arg any)
	nextID   int
}

// NewEmitter creates an emitter exposing the given event names.
func NewEmitter(names ...string) *Emitter {
	return &Emitter{
		names:    names,
		handlers: make(map[string]map[int]func(sender, arg any)),
	}
}

// EventNames lists the events this emitter exposes. Safe on a nil receiver
// so that member dumps of zeroed host types can probe for events.
func (e *Emitter) EventNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// AttachEvent registers a handler for a named event and returns its detach
// function.
func (e *Emitter) AttachEvent(name string, handler func(sender, arg any)) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	known := false
	for _, n := range e.names {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	if e.handlers[name] == nil {
		e.handlers[name] = make(map[int]func(sender, arg any))
	}
	e.nextID++
	id := e.nextID
	e.handlers[name][id] = handler

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[name], id)
	}, nil
}

// Fire invokes every handler attached to the named event.
func (e *Emitter) Fire(sender any, name string, arg any) {
	e.mu.Lock()
	hs := make([]func(sender, arg any), 0, len(e.handlers[name]))
	for _, h := range e.handlers[name] {
		hs = append(hs, h)
	}
	e.mu.Unlock()

	for _, h := range hs {
		h(sender, arg)
	}
}
