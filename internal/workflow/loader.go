package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/dag"
	"github.com/vk/flowgrid/internal/expr"
)

// Document is the already-parsed structured form of a workflow definition.
// The serialized encoding (YAML, JSON, an API payload) is the caller's
// concern; Load only ever sees this shape.
type Document struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Variables   map[string]any `yaml:"variables"`
	Schedule    string         `yaml:"schedule"`
	Tasks       []TaskDocument `yaml:"tasks"`
}

// TaskDocument is the unvalidated form of a single task.
type TaskDocument struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Config     map[string]any `yaml:"config"`
	DependsOn  []string       `yaml:"depends_on"`
	Conditions []string       `yaml:"conditions"`
	Parallel   bool           `yaml:"parallel"`
	Retry      *RetryDocument `yaml:"retry"`
	Timeout    string         `yaml:"timeout"`
}

// RetryDocument is the unvalidated form of a retry policy.
type RetryDocument struct {
	MaxAttempts int     `yaml:"max_attempts"`
	Delay       string  `yaml:"delay"`
	Backoff     float64 `yaml:"backoff"`
}

// Load validates the document and materializes it into an immutable
// Definition. It fails fast with a *DefinitionError on the first problem
// found (missing field, duplicate task id, unknown dependency, cycle) and
// never returns a partially valid graph.
func Load(ctx context.Context, doc *Document) (*Definition, error) {
	logger := ctxlog.FromContext(ctx)

	if doc == nil {
		return nil, &DefinitionError{Reason: "document is nil"}
	}
	if doc.Name == "" {
		return nil, &DefinitionError{Reason: "missing required field 'name'"}
	}

	def := &Definition{
		ID:          doc.ID,
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
		Schedule:    doc.Schedule,
		Variables:   make(map[string]any, len(doc.Variables)),
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	for k, v := range doc.Variables {
		def.Variables[k] = copyConfigValue(v)
	}

	seen := make(map[string]bool, len(doc.Tasks))
	for i := range doc.Tasks {
		task, err := loadTask(doc, &doc.Tasks[i])
		if err != nil {
			return nil, err
		}
		if seen[task.ID] {
			return nil, &DefinitionError{Workflow: doc.Name, TaskID: task.ID, Reason: "duplicate task id"}
		}
		seen[task.ID] = true
		def.Tasks = append(def.Tasks, task)
	}

	// Dependencies may only reference task ids that exist.
	for _, task := range def.Tasks {
		for _, depID := range task.DependsOn {
			if !seen[depID] {
				return nil, &DefinitionError{
					Workflow: doc.Name,
					TaskID:   task.ID,
					Reason:   fmt.Sprintf("dependency '%s' does not reference a known task", depID),
				}
			}
		}
	}

	graph, err := buildGraph(def)
	if err != nil {
		return nil, err
	}
	def.graph = graph

	logger.Debug("Workflow definition loaded.",
		"workflow", def.Name, "id", def.ID, "tasks", len(def.Tasks))
	return def, nil
}

// loadTask validates and converts a single task document.
func loadTask(doc *Document, td *TaskDocument) (*Task, error) {
	if td.ID == "" {
		return nil, &DefinitionError{Workflow: doc.Name, Reason: "task is missing required field 'id'"}
	}
	if td.Type == "" {
		return nil, &DefinitionError{Workflow: doc.Name, TaskID: td.ID, Reason: "missing required field 'type'"}
	}

	task := &Task{
		ID:        td.ID,
		Name:      td.Name,
		Type:      td.Type,
		Config:    copyConfig(td.Config),
		DependsOn: append([]string(nil), td.DependsOn...),
		Parallel:  td.Parallel,
		Retry:     RetryPolicy{MaxAttempts: 1, Backoff: 1},
	}
	if task.Name == "" {
		task.Name = task.ID
	}

	for _, src := range td.Conditions {
		compiled, err := expr.Compile(src)
		if err != nil {
			return nil, &DefinitionError{Workflow: doc.Name, TaskID: td.ID, Reason: fmt.Sprintf("invalid condition: %v", err)}
		}
		task.Conditions = append(task.Conditions, compiled)
	}

	if td.Timeout != "" {
		timeout, err := time.ParseDuration(td.Timeout)
		if err != nil {
			return nil, &DefinitionError{Workflow: doc.Name, TaskID: td.ID, Reason: fmt.Sprintf("invalid timeout '%s': %v", td.Timeout, err)}
		}
		if timeout < 0 {
			return nil, &DefinitionError{Workflow: doc.Name, TaskID: td.ID, Reason: fmt.Sprintf("timeout must not be negative, got %s", timeout)}
		}
		task.Timeout = timeout
	}

	if td.Retry != nil {
		task.Retry.MaxAttempts = td.Retry.MaxAttempts
		if task.Retry.MaxAttempts < 1 {
			task.Retry.MaxAttempts = 1
		}
		if td.Retry.Delay != "" {
			delay, err := time.ParseDuration(td.Retry.Delay)
			if err != nil {
				return nil, &DefinitionError{Workflow: doc.Name, TaskID: td.ID, Reason: fmt.Sprintf("invalid retry delay '%s': %v", td.Retry.Delay, err)}
			}
			task.Retry.Delay = delay
		}
		if td.Retry.Backoff > 0 {
			task.Retry.Backoff = td.Retry.Backoff
		}
	}

	return task, nil
}

// buildGraph materializes the dependency graph and runs cycle detection.
// Edges point from a dependency to its dependents, matching execution flow.
func buildGraph(def *Definition) (*dag.Graph, error) {
	graph := dag.New()
	for _, task := range def.Tasks {
		graph.AddNode(task.ID)
	}
	for _, task := range def.Tasks {
		for _, depID := range task.DependsOn {
			if err := graph.AddEdge(depID, task.ID); err != nil {
				return nil, &DefinitionError{Workflow: def.Name, TaskID: task.ID, Reason: err.Error()}
			}
		}
	}
	if err := graph.DetectCycles(); err != nil {
		return nil, &DefinitionError{Workflow: def.Name, Reason: err.Error()}
	}
	return graph, nil
}

// copyConfig deep-copies a task's opaque config so the definition never
// aliases the caller's document maps.
func copyConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyConfigValue(v)
	}
	return out
}

func copyConfigValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyConfig(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = copyConfigValue(elem)
		}
		return out
	default:
		return v
	}
}
