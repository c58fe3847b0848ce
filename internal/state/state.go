// Package state defines the execution state model and the persistence
// contract behind which concrete backends live. A single execution is only
// ever mutated by its owning engine instance; everything handed across the
// store boundary is a deep-copied snapshot.
package state

import (
	"time"
)

// Execution status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task status values.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskSkipped   = "skipped"
	TaskCancelled = "cancelled"
)

// Skip reasons recorded on tasks that never ran.
const (
	ReasonDependencyNotMet = "dependency_not_met"
	ReasonConditionNotMet  = "condition_not_met"
)

// Execution is the full state of one workflow run.
type Execution struct {
	ID         string `json:"execution_id"`
	WorkflowID string `json:"workflow_id"`
	Workflow   string `json:"workflow"`
	Status     string `json:"status"`

	// Variables is seeded from the definition plus caller overrides and
	// mutated by task output merges as the run progresses.
	Variables map[string]any `json:"variables"`

	// TaskResults is append-only: one entry per task that reached a
	// terminal or running state, keyed by task id.
	TaskResults map[string]*TaskResult `json:"task_results"`

	// Running lists the ids of tasks currently executing.
	Running []string `json:"running_tasks"`

	CompletedTasks int `json:"completed_tasks"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Duration   time.Duration `json:"duration"`

	// Error summarizes the first failing task for failed executions.
	Error string `json:"error,omitempty"`
}

// TaskResult records the outcome of a single task.
type TaskResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`

	// Output is the handler's recorded output mapping.
	Output map[string]any `json:"output,omitempty"`

	// Error holds the final failure text for failed tasks.
	Error string `json:"error,omitempty"`

	// Reason explains why a task was skipped without running.
	Reason string `json:"reason,omitempty"`

	// Attempts is how many invocations the task consumed, including the
	// successful one.
	Attempts int `json:"attempts"`

	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Terminal reports whether the execution reached a final status.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Snapshot returns a deep copy safe to hand to other goroutines or to
// persist while the owning engine keeps mutating the original.
func (e *Execution) Snapshot() *Execution {
	cp := *e
	cp.Variables = copyMap(e.Variables)
	cp.Running = append([]string(nil), e.Running...)
	cp.TaskResults = make(map[string]*TaskResult, len(e.TaskResults))
	for id, tr := range e.TaskResults {
		trCopy := *tr
		trCopy.Output = copyMap(tr.Output)
		cp.TaskResults[id] = &trCopy
	}
	return &cp
}

// Summary is the condensed execution view returned by store listings and
// consumed by external dashboards.
type Summary struct {
	ExecutionID    string        `json:"execution_id"`
	WorkflowID     string        `json:"workflow_id"`
	Status         string        `json:"status"`
	CompletedTasks int           `json:"completed_tasks"`
	Duration       time.Duration `json:"duration"`
	StartedAt      time.Time     `json:"started_at"`
}

// Summarize condenses the execution into its listing form.
func (e *Execution) Summarize() Summary {
	return Summary{
		ExecutionID:    e.ID,
		WorkflowID:     e.WorkflowID,
		Status:         e.Status,
		CompletedTasks: e.CompletedTasks,
		Duration:       e.Duration,
		StartedAt:      e.StartedAt,
	}
}

// copyMap deep-copies a native value map, descending into nested maps and
// slices so snapshots never alias live engine state.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = copyValue(elem)
		}
		return out
	default:
		return v
	}
}
