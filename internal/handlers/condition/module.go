// Package condition provides the built-in 'condition' task type: it
// evaluates a boolean expression and records a branch marker that downstream
// tasks consume in their own conditions.
package condition

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Handler evaluates the configured boolean expression.
type Handler struct{}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(context.Background(), "condition", &Handler{})
}

// ValidateConfig requires a parseable 'expression'.
func (h *Handler) ValidateConfig(config map[string]any) error {
	src, ok := config["expression"].(string)
	if !ok || src == "" {
		return fmt.Errorf("missing required config key 'expression'")
	}
	_, err := expr.Compile(src)
	return err
}

// Execute implements registry.Handler. The output's 'branch' marker is the
// string form of the result, so downstream conditions can compare against
// "true"/"false" without caring about types.
func (h *Handler) Execute(ctx context.Context, inv *registry.Invocation) (*registry.Result, error) {
	src := inv.Task.Config["expression"].(string)
	compiled, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}

	result, err := compiled.EvalBool(inv.Scope())
	if err != nil {
		return nil, err
	}

	branch := "false"
	if result {
		branch = "true"
	}
	ctxlog.FromContext(ctx).Debug("Condition evaluated.", "task", inv.Task.ID, "branch", branch)

	return &registry.Result{
		Output: map[string]any{
			"result": result,
			"branch": branch,
		},
	}, nil
}
