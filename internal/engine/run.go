package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/state"
	"github.com/vk/flowgrid/internal/workflow"
)

// readiness classifies an undispatched task on each scheduling pass.
type readiness int

const (
	// notReady: at least one dependency has not finished yet.
	notReady readiness = iota
	// ready: all dependencies succeeded and all conditions hold.
	ready
	// skipDependency: a required dependency failed, was skipped, or was
	// cancelled, so this task can never run.
	skipDependency
	// skipCondition: dependencies succeeded but a condition evaluated false.
	skipCondition
)

// taskEvent is the completion record a task attempt chain delivers back to
// the run loop.
type taskEvent struct {
	task     *workflow.Task
	result   *registry.Result
	err      error
	attempts int
}

// run owns a single execution. Only the run loop mutates the execution
// state; handlers receive read-only snapshots.
type run struct {
	engine *Engine
	def    *workflow.Definition

	// mutex guards execution and the variable merge. Parallel siblings that
	// declare updates for the same key resolve last-writer-wins; their
	// completion order is unspecified, so workflows that need determinism
	// should keep parallel write-sets disjoint.
	mutex     sync.Mutex
	execution *state.Execution

	cancelOnce sync.Once
	cancelled  chan struct{}

	saveOnce sync.Once
	saveErr  error
}

// newRun seeds the execution state from the definition plus caller overrides.
func newRun(e *Engine, def *workflow.Definition, overrides map[string]any) *run {
	variables := make(map[string]any, len(def.Variables)+len(overrides))
	for k, v := range def.Variables {
		variables[k] = v
	}
	for k, v := range overrides {
		variables[k] = v
	}

	return &run{
		engine:    e,
		def:       def,
		cancelled: make(chan struct{}),
		execution: &state.Execution{
			ID:          uuid.NewString(),
			WorkflowID:  def.ID,
			Workflow:    def.Name,
			Status:      state.StatusPending,
			Variables:   variables,
			TaskResults: make(map[string]*state.TaskResult, len(def.Tasks)),
		},
	}
}

// snapshot returns a deep copy of the current execution state.
func (r *run) snapshot() *state.Execution {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.execution.Snapshot()
}

// requestCancel flags the run for cancellation. Idempotent.
func (r *run) requestCancel() {
	r.cancelOnce.Do(func() { close(r.cancelled) })
}

// loop drives the execution to a terminal state. Tasks marked parallel get
// their own goroutine when they become ready; all other ready tasks funnel
// through a single serial lane in definition order, so concurrency within
// one execution stays opt-in per task. Dispatch itself never blocks: ready
// tasks from any branch are queued as soon as their dependencies allow.
func (r *run) loop(ctx context.Context) (*state.Execution, error) {
	logger := ctxlog.FromContext(ctx).With("execution", r.execution.ID, "workflow", r.def.Name)
	ctx = ctxlog.WithLogger(ctx, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.cancelled:
			cancel()
		case <-runCtx.Done():
		}
	}()

	r.mutex.Lock()
	r.execution.Status = state.StatusRunning
	r.execution.StartedAt = time.Now()
	r.mutex.Unlock()
	r.persist(ctx)

	logger.Info("Execution started.", "tasks", len(r.def.Tasks), "roots", len(r.def.Roots()))

	serialChan := make(chan *workflow.Task, len(r.def.Tasks))
	eventChan := make(chan taskEvent, len(r.def.Tasks))
	defer close(serialChan)

	// Serial lane: one task at a time, in the order they were queued.
	go func() {
		for task := range serialChan {
			eventChan <- r.runTask(runCtx, task)
		}
	}()

	dispatched := make(map[string]bool, len(r.def.Tasks))
	running := 0

	for {
		if r.saveFailed() {
			cancel()
		}
		running += r.dispatchPass(runCtx, dispatched, serialChan, eventChan)

		if running == 0 {
			break
		}

		event := <-eventChan
		running--
		r.applyEvent(runCtx, event)
		if event.err != nil {
			r.cascadeSkips(ctx, event.task.ID, dispatched)
		}
		r.persist(ctx)
	}

	return r.finalize(ctx, runCtx.Err(), logger)
}

// dispatchPass walks the undispatched tasks in definition order, records
// skips, and starts every task that is ready. It repeats until a pass makes
// no progress so that skip cascades settle in one call. Returns the number
// of tasks started.
func (r *run) dispatchPass(runCtx context.Context, dispatched map[string]bool, serialChan chan<- *workflow.Task, eventChan chan<- taskEvent) int {
	logger := ctxlog.FromContext(runCtx)
	started := 0

	for progress := true; progress; {
		progress = false

		for _, task := range r.def.Tasks {
			if dispatched[task.ID] {
				continue
			}

			verdict, evalErr := r.evaluate(task)
			if evalErr != nil {
				// A condition that cannot be evaluated is a definition-level
				// problem with this task; it fails without retry.
				dispatched[task.ID] = true
				progress = true
				r.recordTaskFailure(task, evalErr)
				r.cascadeSkips(runCtx, task.ID, dispatched)
				r.persist(runCtx)
				continue
			}

			switch verdict {
			case notReady:
				continue
			case skipDependency:
				dispatched[task.ID] = true
				progress = true
				logger.Debug("Skipping task.", "task", task.ID, "reason", state.ReasonDependencyNotMet)
				r.recordSkip(task, state.ReasonDependencyNotMet)
				r.cascadeSkips(runCtx, task.ID, dispatched)
				r.persist(runCtx)
			case skipCondition:
				dispatched[task.ID] = true
				progress = true
				logger.Debug("Skipping task.", "task", task.ID, "reason", state.ReasonConditionNotMet)
				r.recordSkip(task, state.ReasonConditionNotMet)
				r.cascadeSkips(runCtx, task.ID, dispatched)
				r.persist(runCtx)
			case ready:
				// After a failure or cancellation no new work starts; the
				// task stays undispatched while in-flight branches drain.
				if runCtx.Err() != nil || r.failed() {
					continue
				}
				dispatched[task.ID] = true
				progress = true
				started++
				r.recordTaskStart(task)
				r.persist(runCtx)
				logger.Debug("Dispatching task.", "task", task.ID, "type", task.Type, "parallel", task.Parallel)
				if task.Parallel {
					go func(t *workflow.Task) {
						eventChan <- r.runTask(runCtx, t)
					}(task)
				} else {
					serialChan <- task
				}
			}
		}
	}
	return started
}

// evaluate classifies one undispatched task against the current results.
func (r *run) evaluate(task *workflow.Task) (readiness, error) {
	r.mutex.Lock()
	for _, depID := range task.DependsOn {
		dep, ok := r.execution.TaskResults[depID]
		if !ok || dep.Status == state.TaskPending || dep.Status == state.TaskRunning {
			r.mutex.Unlock()
			return notReady, nil
		}
		if dep.Status != state.TaskCompleted {
			r.mutex.Unlock()
			return skipDependency, nil
		}
	}
	scope := r.scopeLocked()
	r.mutex.Unlock()

	for _, condition := range task.Conditions {
		ok, err := condition.EvalBool(scope)
		if err != nil {
			return notReady, fmt.Errorf("condition %q: %w", condition.String(), err)
		}
		if !ok {
			return skipCondition, nil
		}
	}
	return ready, nil
}

// scopeLocked builds the expression scope from the current variables and
// completed task results. Caller holds r.mutex.
func (r *run) scopeLocked() *expr.Scope {
	scope := &expr.Scope{
		Variables: make(map[string]any, len(r.execution.Variables)),
		Tasks:     make(map[string]expr.TaskView),
	}
	for k, v := range r.execution.Variables {
		scope.Variables[k] = v
	}
	for id, tr := range r.execution.TaskResults {
		if tr.Status == state.TaskCompleted {
			scope.Tasks[id] = expr.TaskView{Status: tr.Status, Output: tr.Output}
		}
	}
	return scope
}

// invocation snapshots the execution state into the read-only view a handler
// receives.
func (r *run) invocation(task *workflow.Task, attempt int) *registry.Invocation {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	inv := &registry.Invocation{
		Task:      task,
		Attempt:   attempt,
		Variables: make(map[string]any, len(r.execution.Variables)),
		Results:   make(map[string]registry.TaskOutput, len(r.execution.TaskResults)),
	}
	for k, v := range r.execution.Variables {
		inv.Variables[k] = v
	}
	for id, tr := range r.execution.TaskResults {
		if tr.Status == state.TaskCompleted {
			inv.Results[id] = registry.TaskOutput{Status: tr.Status, Output: tr.Output}
		}
	}
	return inv
}

// recordTaskStart marks a task running.
func (r *run) recordTaskStart(task *workflow.Task) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.execution.TaskResults[task.ID] = &state.TaskResult{
		TaskID:    task.ID,
		Status:    state.TaskRunning,
		StartedAt: time.Now(),
	}
	r.execution.Running = append(r.execution.Running, task.ID)
}

// recordSkip records a task that will never run, without treating it as a
// failure.
func (r *run) recordSkip(task *workflow.Task, reason string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.execution.TaskResults[task.ID] = &state.TaskResult{
		TaskID:     task.ID,
		Status:     state.TaskSkipped,
		Reason:     reason,
		FinishedAt: time.Now(),
	}
}

// cascadeSkips walks the dependents of a terminally unsuccessful task and
// records each undispatched one as skipped. A task whose dependency can
// never complete can never run, whatever its other dependencies are doing.
func (r *run) cascadeSkips(ctx context.Context, taskID string, dispatched map[string]bool) {
	logger := ctxlog.FromContext(ctx)

	for _, depID := range r.def.Dependents(taskID) {
		if dispatched[depID] {
			continue
		}
		dispatched[depID] = true
		logger.Debug("Skipping task.", "task", depID, "reason", state.ReasonDependencyNotMet)
		r.recordSkip(r.def.Task(depID), state.ReasonDependencyNotMet)
		r.cascadeSkips(ctx, depID, dispatched)
	}
}

// recordTaskFailure records a task that failed before it could be dispatched
// and marks the execution failed.
func (r *run) recordTaskFailure(task *workflow.Task, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.execution.TaskResults[task.ID] = &state.TaskResult{
		TaskID:     task.ID,
		Status:     state.TaskFailed,
		Error:      err.Error(),
		FinishedAt: time.Now(),
	}
	r.markFailedLocked(task.ID, err)
}

// applyEvent folds a completed task attempt chain back into the execution.
func (r *run) applyEvent(runCtx context.Context, event taskEvent) {
	logger := ctxlog.FromContext(runCtx)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, ok := r.execution.TaskResults[event.task.ID]
	if !ok {
		tr = &state.TaskResult{TaskID: event.task.ID}
		r.execution.TaskResults[event.task.ID] = tr
	}
	tr.Attempts = event.attempts
	tr.FinishedAt = time.Now()
	r.removeRunningLocked(event.task.ID)

	switch {
	case event.err == nil:
		tr.Status = state.TaskCompleted
		if event.result != nil {
			tr.Output = event.result.Output
			r.mergeVariablesLocked(event.result.Variables)
		}
		r.execution.CompletedTasks++
		logger.Debug("Task completed.", "task", event.task.ID, "attempts", event.attempts)

	case runCtx.Err() != nil && errors.Is(event.err, context.Canceled):
		// Only the run's own cancellation makes a task 'cancelled'. A
		// handler error that merely wraps context.Canceled (an aborted
		// upstream call, say) is an ordinary failure.
		tr.Status = state.TaskCancelled
		tr.Error = event.err.Error()
		logger.Debug("Task cancelled.", "task", event.task.ID)

	default:
		tr.Status = state.TaskFailed
		tr.Error = event.err.Error()
		logger.Error("Task failed.", "task", event.task.ID, "attempts", event.attempts, "error", event.err)
		r.markFailedLocked(event.task.ID, event.err)
	}
}

// markFailedLocked marks the execution failed, naming the first failing
// task. Later failures keep the original summary. Caller holds r.mutex.
func (r *run) markFailedLocked(taskID string, err error) {
	if r.execution.Status != state.StatusFailed {
		r.execution.Status = state.StatusFailed
		r.execution.Error = fmt.Sprintf("task '%s' failed: %v", taskID, err)
	}
}

// mergeVariablesLocked folds a handler's declared variable updates into the
// execution variables. Last writer wins. Caller holds r.mutex.
func (r *run) mergeVariablesLocked(updates map[string]any) {
	for k, v := range updates {
		r.execution.Variables[k] = v
	}
}

// removeRunningLocked drops a task id from the running list. Caller holds
// r.mutex.
func (r *run) removeRunningLocked(taskID string) {
	for i, id := range r.execution.Running {
		if id == taskID {
			r.execution.Running = append(r.execution.Running[:i], r.execution.Running[i+1:]...)
			return
		}
	}
}

// failed reports whether the execution has already been marked failed.
func (r *run) failed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.execution.Status == state.StatusFailed
}

// persist checkpoints a snapshot of the execution. The first store error is
// kept and surfaced to the caller; subsequent saves are still attempted so a
// transient outage loses as little as possible.
func (r *run) persist(ctx context.Context) {
	if err := r.engine.store.Save(ctx, r.snapshot()); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to persist execution state.", "error", err)
		r.saveOnce.Do(func() { r.saveErr = err })
	}
}

// saveFailed reports whether a checkpoint has failed.
func (r *run) saveFailed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.saveErr != nil
}

// finalize settles the terminal status, persists it, and reports the result.
func (r *run) finalize(ctx context.Context, runErr error, logger *slog.Logger) (*state.Execution, error) {
	r.mutex.Lock()
	switch {
	case r.execution.Status == state.StatusFailed:
		// First failure already summarized.
	case runErr != nil:
		r.execution.Status = state.StatusCancelled
	default:
		r.execution.Status = state.StatusCompleted
	}
	r.execution.Running = nil
	r.execution.FinishedAt = time.Now()
	r.execution.Duration = r.execution.FinishedAt.Sub(r.execution.StartedAt)
	r.mutex.Unlock()

	r.persist(ctx)

	final := r.snapshot()
	logger.Info("Execution finished.",
		"status", final.Status, "completed_tasks", final.CompletedTasks, "duration", final.Duration)

	r.mutex.Lock()
	saveErr := r.saveErr
	r.mutex.Unlock()
	if saveErr != nil {
		return final, fmt.Errorf("engine: persisting execution state: %w", saveErr)
	}
	return final, nil
}
