package engine

import (
	"fmt"
	"time"
)

// TaskConfigError means a task's configuration failed handler validation.
// It fails the task immediately; configuration problems are never retried.
type TaskConfigError struct {
	TaskID string
	Cause  error
}

// Error implements the error interface.
func (e *TaskConfigError) Error() string {
	return fmt.Sprintf("invalid config for task '%s': %v", e.TaskID, e.Cause)
}

// Unwrap exposes the underlying validation error.
func (e *TaskConfigError) Unwrap() error {
	return e.Cause
}

// HandlerExecutionError wraps a handler failure after all retries were
// exhausted.
type HandlerExecutionError struct {
	TaskID   string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("task '%s' failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Cause)
}

// Unwrap exposes the last attempt's error.
func (e *HandlerExecutionError) Unwrap() error {
	return e.Cause
}

// TimeoutError is the retryable failure recorded when a single handler
// invocation exceeds the task's configured timeout. The bound is the
// configured value, not the handler's actual runtime; the invocation context
// is cancelled and the attempt is charged regardless of whether the handler
// noticed.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task '%s' exceeded its timeout of %s", e.TaskID, e.Timeout)
}
