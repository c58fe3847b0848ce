// Package workflow defines the declarative workflow model and the loader
// that validates and materializes definitions into an executable task graph.
package workflow

import (
	"fmt"
	"time"

	"github.com/vk/flowgrid/internal/dag"
	"github.com/vk/flowgrid/internal/expr"
)

// Definition is a fully validated, immutable workflow. Instances are only
// produced by Load and must not be mutated afterwards; executions copy the
// variable map before seeding their own state.
type Definition struct {
	ID          string
	Name        string
	Version     string
	Description string

	// Variables holds the initial variable bindings for every execution of
	// this workflow. Callers may override individual keys at execute time.
	Variables map[string]any

	// Tasks is kept in declaration order; the engine uses that order as the
	// deterministic tie-break when several tasks become ready together.
	Tasks []*Task

	// Schedule optionally carries a cron expression for time-based runs.
	// It is advisory here; registration happens through the scheduler.
	Schedule string

	// graph is the validated dependency graph, built by Load.
	graph *dag.Graph
}

// Dependents returns the ids of tasks that directly depend on the given
// task. Unknown ids return nil.
func (d *Definition) Dependents(id string) []string {
	dependents, err := d.graph.Dependents(id)
	if err != nil {
		return nil
	}
	return dependents
}

// Roots returns the ids of the workflow's entry tasks, the ones with no
// dependencies.
func (d *Definition) Roots() []string {
	return d.graph.Roots()
}

// Task is a single validated task within a workflow.
type Task struct {
	ID   string
	Name string

	// Type selects the handler in the registry.
	Type string

	// Config is the opaque handler configuration, validated by the handler
	// itself at dispatch time.
	Config map[string]any

	// DependsOn lists the IDs of tasks that must complete successfully
	// before this task may start.
	DependsOn []string

	// Conditions are compiled expressions that must all evaluate true for
	// the task to run; an empty list always passes.
	Conditions []*expr.Expr

	// Parallel marks the task as eligible to run concurrently with other
	// simultaneously-ready parallel tasks.
	Parallel bool

	Retry   RetryPolicy
	Timeout time.Duration
}

// RetryPolicy controls how handler failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are normalized to 1 by the loader.
	MaxAttempts int

	// Delay is the wait before the first retry.
	Delay time.Duration

	// Backoff multiplies the delay after each failed attempt. Values at or
	// below zero are normalized to 1 (constant delay).
	Backoff float64
}

// DelayFor returns the wait before retrying after the given failed attempt
// (1-based).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	delay := p.Delay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Backoff)
	}
	return delay
}

// Task returns the task with the given ID, or nil if the definition does not
// contain it.
func (d *Definition) Task(id string) *Task {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// DefinitionError describes why a workflow document failed validation. The
// loader fails fast: the first error is returned and no partial definition
// escapes.
type DefinitionError struct {
	// Workflow is the workflow name or id, when known.
	Workflow string
	// TaskID is set when the error concerns a specific task.
	TaskID string
	// Reason is the human-readable failure description.
	Reason string
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	switch {
	case e.TaskID != "" && e.Workflow != "":
		return fmt.Sprintf("invalid workflow '%s': task '%s': %s", e.Workflow, e.TaskID, e.Reason)
	case e.TaskID != "":
		return fmt.Sprintf("invalid workflow: task '%s': %s", e.TaskID, e.Reason)
	case e.Workflow != "":
		return fmt.Sprintf("invalid workflow '%s': %s", e.Workflow, e.Reason)
	default:
		return fmt.Sprintf("invalid workflow: %s", e.Reason)
	}
}
