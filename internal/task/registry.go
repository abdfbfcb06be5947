// Package task holds the named callables an engine can run inside its
// namespace without going through the console compiler.
//
// A task is registered once and invoked any number of times. It receives the
// namespace it runs against followed by the caller's arguments. Errors raised
// by a task are returned to the caller untouched; the registry never catches
// them.
package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/rengine/internal/lang"
)

var (
	// ErrInvalidTask is returned when registering an empty name or a nil func.
	ErrInvalidTask = errors.New("task: invalid task")

	// ErrTaskExists is returned when the name is already registered. The
	// existing task is kept.
	ErrTaskExists = errors.New("task: already registered")

	// ErrUnknownTask is returned by Run and Get for names never registered.
	ErrUnknownTask = errors.New("task: unknown task")
)

// Func is the fixed task signature: the namespace supplies globals and
// locals, args are the positional arguments from the caller.
type Func func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error)

// Registry maps task names to funcs. It is safe for concurrent use; tasks
// themselves run on whatever goroutine calls Run.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Func)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: name=%q", ErrInvalidTask, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}
	r.tasks[name] = fn
	return nil
}

// Get returns the func registered under name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.tasks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Run invokes the named task against ns.
func (r *Registry) Run(ns *lang.Namespace, name string, args []lang.Value) (lang.Value, error) {
	fn, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	v, err := fn(ns, args...)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = lang.None
	}
	return v, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
