package engine

import (
	"context"
	"errors"
	"time"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/workflow"
)

// runTask executes one task's full attempt chain: handler resolution, config
// validation, and up to MaxAttempts invocations with the configured delay
// and backoff between failures.
func (r *run) runTask(ctx context.Context, task *workflow.Task) taskEvent {
	logger := ctxlog.FromContext(ctx).With("task", task.ID, "type", task.Type)

	if err := ctx.Err(); err != nil {
		return taskEvent{task: task, err: err}
	}

	handler, err := r.engine.registry.Get(task.Type)
	if err != nil {
		return taskEvent{task: task, err: &TaskConfigError{TaskID: task.ID, Cause: err}}
	}

	if err := handler.ValidateConfig(task.Config); err != nil {
		return taskEvent{task: task, err: &TaskConfigError{TaskID: task.ID, Cause: err}}
	}

	var lastErr error
	for attempt := 1; attempt <= task.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.Debug("Retrying task.", "attempt", attempt, "max_attempts", task.Retry.MaxAttempts)
		}

		result, err := r.invoke(ctx, handler, task, attempt)
		if err == nil {
			return taskEvent{task: task, result: result, attempts: attempt}
		}
		lastErr = err

		if ctx.Err() != nil {
			return taskEvent{task: task, err: ctx.Err(), attempts: attempt}
		}

		if attempt < task.Retry.MaxAttempts {
			delay := task.Retry.DelayFor(attempt)
			logger.Debug("Task attempt failed, waiting before retry.",
				"attempt", attempt, "delay", delay, "error", err)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return taskEvent{task: task, err: ctx.Err(), attempts: attempt}
				}
			}
		}
	}

	return taskEvent{
		task:     task,
		err:      &HandlerExecutionError{TaskID: task.ID, Attempts: task.Retry.MaxAttempts, Cause: lastErr},
		attempts: task.Retry.MaxAttempts,
	}
}

// invoke runs a single handler attempt, enforcing the task's timeout. The
// handler runs in its own goroutine so a handler that ignores cancellation
// still cannot stall the attempt past the configured bound: the invocation
// context is cancelled and a TimeoutError is recorded at the deadline.
func (r *run) invoke(ctx context.Context, handler registry.Handler, task *workflow.Task, attempt int) (*registry.Result, error) {
	invCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		invCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	inv := r.invocation(task, attempt)

	type outcome struct {
		result *registry.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler.Execute(invCtx, inv)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{TaskID: task.ID, Timeout: task.Timeout}
		}
		return out.result, out.err
	case <-invCtx.Done():
		if err := ctx.Err(); err != nil {
			// The execution itself was cancelled, not this attempt.
			return nil, err
		}
		return nil, &TimeoutError{TaskID: task.ID, Timeout: task.Timeout}
	}
}
