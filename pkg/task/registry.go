package task

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a task payload's argument blob and returns a result
// blob or an error. Both worker processes and tests invoke handlers
// looked up by name from the Registry.
type Handler func(ctx context.Context, args []byte) ([]byte, error)

// LifecycleHook runs a worker's initializer or deinitializer.
type LifecycleHook func(args []byte) error

// Registry maps payload function names to handlers. A process-based pool
// cannot ship a Go closure across an exec.Cmd boundary the way an
// in-process pool would, so callables are registered by name in both the
// submitting process and the worker subprocess (which is the same
// compiled binary re-executed in worker mode, so the registrations match).
type Registry struct {
	mu             sync.RWMutex
	handlers       map[string]Handler
	initializers   map[string]LifecycleHook
	deinitializers map[string]LifecycleHook
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:       make(map[string]Handler),
		initializers:   make(map[string]LifecycleHook),
		deinitializers: make(map[string]LifecycleHook),
	}
}

// Register associates name with a task handler. Registering the same name
// twice overwrites the previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterInitializer associates name with a worker initializer hook.
func (r *Registry) RegisterInitializer(name string, h LifecycleHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initializers[name] = h
}

// RegisterDeinitializer associates name with a worker deinitializer hook.
func (r *Registry) RegisterDeinitializer(name string, h LifecycleHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deinitializers[name] = h
}

// Invoke looks up payload.Func and runs it with payload.Args.
func (r *Registry) Invoke(ctx context.Context, payload Payload) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[payload.Func]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task: no handler registered for %q", payload.Func)
	}
	return h(ctx, payload.Args)
}

// Initializer looks up a registered initializer hook by name.
func (r *Registry) Initializer(name string) (LifecycleHook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.initializers[name]
	return h, ok
}

// Deinitializer looks up a registered deinitializer hook by name.
func (r *Registry) Deinitializer(name string) (LifecycleHook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.deinitializers[name]
	return h, ok
}

// defaultRegistry is the process-wide registry used by pkg/procpool and by
// internal/workerproc when neither side constructs a private Registry.
var defaultRegistry = NewRegistry()

// Register registers a handler with the package-level default Registry.
func Register(name string, h Handler) { defaultRegistry.Register(name, h) }

// RegisterInitializer registers an initializer hook with the default Registry.
func RegisterInitializer(name string, h LifecycleHook) {
	defaultRegistry.RegisterInitializer(name, h)
}

// RegisterDeinitializer registers a deinitializer hook with the default Registry.
func RegisterDeinitializer(name string, h LifecycleHook) {
	defaultRegistry.RegisterDeinitializer(name, h)
}

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }
