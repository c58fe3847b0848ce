// Package registry holds the task handler registry: the mapping from a task
// type name to the pluggable unit of work that implements it. The registry is
// process-scoped state with a documented lifecycle: built-ins are populated
// at startup, later registrations may override earlier ones (the
// instrumentation seam), and reads are safe during active executions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/workflow"
)

// ErrNotFound is returned by Get for an unregistered task type.
var ErrNotFound = errors.New("handler not found")

// Invocation carries everything a handler may read during one task
// execution. The maps are snapshots; handlers must not mutate them.
type Invocation struct {
	// Task is the validated task definition being executed.
	Task *workflow.Task

	// Variables is a read-only view of the execution variables at dispatch
	// time.
	Variables map[string]any

	// Results maps completed task ids to their recorded outputs.
	Results map[string]TaskOutput

	// Attempt is the 1-based attempt number for this invocation.
	Attempt int
}

// TaskOutput is the slice of a prior task's result visible to handlers.
type TaskOutput struct {
	Status string
	Output map[string]any
}

// Result is what a successful handler invocation produces.
type Result struct {
	// Output is recorded verbatim in the execution's task results.
	Output map[string]any

	// Variables are merged into the execution-wide variable map after the
	// task completes.
	Variables map[string]any
}

// Handler is the contract every task type implements.
type Handler interface {
	// Execute runs the unit of work. Implementations must observe ctx
	// cancellation at their suspension points; the engine enforces
	// timeouts by cancelling this context.
	Execute(ctx context.Context, inv *Invocation) (*Result, error)

	// ValidateConfig checks the task's opaque config before the first
	// attempt. A validation error fails the task immediately, without
	// retries.
	ValidateConfig(config map[string]any) error
}

// Module is implemented by packages that contribute handlers, mirroring how
// built-ins self-register at startup.
type Module interface {
	Register(r *Registry)
}

// Registry maps task type names to handlers. Reads are concurrent;
// registrations are serialized.
type Registry struct {
	mutex    sync.RWMutex
	handlers map[string]Handler
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task type name. The last registration for a
// name wins, which lets callers wrap or replace built-ins for
// instrumentation.
func (r *Registry) Register(ctx context.Context, typeName string, h Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.handlers[typeName]; exists {
		ctxlog.FromContext(ctx).Debug("Overriding registered handler.", "type", typeName)
	} else {
		ctxlog.FromContext(ctx).Debug("Registering handler.", "type", typeName)
	}
	r.handlers[typeName] = h
}

// Get returns the handler for a task type, or ErrNotFound.
func (r *Registry) Get(typeName string) (Handler, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	h, ok := r.handlers[typeName]
	if !ok {
		return nil, fmt.Errorf("task type '%s': %w", typeName, ErrNotFound)
	}
	return h, nil
}

// Types returns the registered type names, for diagnostics.
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		types = append(types, name)
	}
	return types
}
