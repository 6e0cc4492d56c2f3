// Package handler instantiates resolved routes into runtime handlers and
// swaps them while events keep flowing.
package handler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/model"
)

// ErrUnknownKind is returned when no constructor is registered for a leaf
// kind.
var ErrUnknownKind = errors.New("unknown handler kind")

// Handler consumes events. Handle is only called between a successful
// Initialize and Close, from a single goroutine.
//
// sendToCommonSink reports whether the event is also delivered to the
// common sink during the same dispatch. A handler persisting events the
// same way as the common sink may skip them.
type Handler interface {
	Initialize() error
	Handle(ev *model.Event, sendToCommonSink bool) error
	Close() error
}

// Constructor creates a handler from its leaf configuration. It must not
// perform I/O: resources are acquired in Initialize.
type Constructor func(leaf *action.Leaf) (Handler, error)

// Registry maps leaf kinds to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds a constructor to a kind. Registering a kind twice is an
// error.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" || ctor == nil {
		return fmt.Errorf("register %q: empty kind or nil constructor", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[kind]; exists {
		return fmt.Errorf("register %q: kind already registered", kind)
	}
	r.ctors[kind] = ctor
	return nil
}

// New creates the handler of a leaf.
func (r *Registry) New(leaf *action.Leaf) (Handler, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[leaf.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action %q: %w: %q", leaf.Name(), ErrUnknownKind, leaf.Kind)
	}
	h, err := ctor(leaf)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", leaf.Name(), err)
	}
	return h, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Func adapts a function to a Handler without resources.
type Func func(ev *model.Event, sendToCommonSink bool) error

func (f Func) Initialize() error { return nil }

func (f Func) Handle(ev *model.Event, sendToCommonSink bool) error {
	return f(ev, sendToCommonSink)
}

func (f Func) Close() error { return nil }
