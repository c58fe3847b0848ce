// Package expression provides the built-in 'expression' task type: it
// evaluates a constrained expression against the current variables and prior
// task outputs, and may assign the value back into the execution variables.
package expression

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Handler evaluates the configured expression.
type Handler struct{}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(context.Background(), "expression", &Handler{})
}

// ValidateConfig requires a parseable 'expression' and, when present, a
// string 'assign' naming the target variable.
func (h *Handler) ValidateConfig(config map[string]any) error {
	src, ok := config["expression"].(string)
	if !ok || src == "" {
		return fmt.Errorf("missing required config key 'expression'")
	}
	if _, err := expr.Compile(src); err != nil {
		return err
	}
	if raw, ok := config["assign"]; ok {
		if name, ok := raw.(string); !ok || name == "" {
			return fmt.Errorf("config key 'assign' must be a non-empty string")
		}
	}
	return nil
}

// Execute implements registry.Handler.
func (h *Handler) Execute(ctx context.Context, inv *registry.Invocation) (*registry.Result, error) {
	src := inv.Task.Config["expression"].(string)
	compiled, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}

	value, err := compiled.EvalNative(inv.Scope())
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Expression evaluated.", "task", inv.Task.ID, "expression", src)

	result := &registry.Result{
		Output: map[string]any{"value": value},
	}
	if assign, ok := inv.Task.Config["assign"].(string); ok && assign != "" {
		result.Variables = map[string]any{assign: value}
	}
	return result, nil
}
