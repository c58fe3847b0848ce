// Package engine orchestrates workflow executions: it dispatches ready
// tasks, evaluates conditions, enforces retries and timeouts, merges task
// outputs into execution variables, and checkpoints state after every task
// transition.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/state"
	"github.com/vk/flowgrid/internal/workflow"
)

// Engine runs workflow executions. Many executions may run concurrently as
// independent units of work; each one is owned by exactly one run loop.
type Engine struct {
	store    state.Store
	registry *registry.Registry

	// mutex guards the live-run table; each run mutates only itself.
	mutex sync.RWMutex
	live  map[string]*run
}

// New creates an engine backed by the given store and handler registry.
func New(store state.Store, reg *registry.Registry) *Engine {
	return &Engine{
		store:    store,
		registry: reg,
		live:     make(map[string]*run),
	}
}

// Execute runs one workflow execution to a terminal state and returns the
// final execution state. Task failures are reported through the returned
// state's status, not the error; a non-nil error means infrastructure broke
// (store unavailable) or the caller passed a nil definition.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, overrides map[string]any) (*state.Execution, error) {
	if def == nil {
		return nil, fmt.Errorf("engine: definition is nil")
	}

	r := newRun(e, def, overrides)

	e.mutex.Lock()
	e.live[r.execution.ID] = r
	e.mutex.Unlock()

	defer func() {
		e.mutex.Lock()
		delete(e.live, r.execution.ID)
		e.mutex.Unlock()
	}()

	return r.loop(ctx)
}

// Cancel requests cancellation of a live execution. In-flight handlers exit
// at their next cancellation checkpoint; no new tasks are dispatched after
// the request. Unknown or already-finished executions return an error.
func (e *Engine) Cancel(executionID string) error {
	e.mutex.RLock()
	r, ok := e.live[executionID]
	e.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("engine: no live execution '%s'", executionID)
	}
	r.requestCancel()
	return nil
}

// Status returns a live snapshot for active executions, or the last
// persisted state for finished ones.
func (e *Engine) Status(ctx context.Context, executionID string) (*state.Execution, error) {
	e.mutex.RLock()
	r, ok := e.live[executionID]
	e.mutex.RUnlock()
	if ok {
		return r.snapshot(), nil
	}
	return e.store.Load(ctx, executionID)
}

// List returns execution summaries, most recent first, optionally narrowed
// to one workflow.
func (e *Engine) List(ctx context.Context, workflowID string) ([]state.Summary, error) {
	return e.store.List(ctx, state.Filter{WorkflowID: workflowID})
}
