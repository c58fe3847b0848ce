// Package transform provides the built-in 'transform' task type: a
// declarative map or filter over a referenced collection variable, with the
// per-element expression seeing `item` and `index` alongside the usual scope.
package transform

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Handler applies the configured operation over the input collection.
type Handler struct{}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(context.Background(), "transform", &Handler{})
}

// ValidateConfig requires 'input' (the collection variable name), a valid
// 'operation', and a parseable 'expression'.
func (h *Handler) ValidateConfig(config map[string]any) error {
	input, ok := config["input"].(string)
	if !ok || input == "" {
		return fmt.Errorf("missing required config key 'input'")
	}

	op, ok := config["operation"].(string)
	if !ok || op == "" {
		return fmt.Errorf("missing required config key 'operation'")
	}
	if op != "map" && op != "filter" {
		return fmt.Errorf("operation must be 'map' or 'filter', got '%s'", op)
	}

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
	input := inv.Task.Config["input"].(string)
	op := inv.Task.Config["operation"].(string)
	src := inv.Task.Config["expression"].(string)

	compiled, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}

	raw, ok := inv.Variables[input]
	if !ok {
		return nil, fmt.Errorf("input variable '%s' is not defined", input)
	}
	collection, err := asCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("input variable '%s': %w", input, err)
	}

	scope := inv.Scope()
	scope.HasItem = true

	transformed := make([]any, 0, len(collection))
	for i, item := range collection {
		scope.Item = item
		scope.Index = i

		switch op {
		case "map":
			value, err := compiled.EvalNative(scope)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			transformed = append(transformed, value)
		case "filter":
			keep, err := compiled.EvalBool(scope)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if keep {
				transformed = append(transformed, item)
			}
		}
	}

	ctxlog.FromContext(ctx).Debug("Transform applied.",
		"task", inv.Task.ID, "operation", op, "input_len", len(collection), "output_len", len(transformed))

	result := &registry.Result{
		Output: map[string]any{
			"result": transformed,
			"count":  len(transformed),
		},
	}
	if assign, ok := inv.Task.Config["assign"].(string); ok && assign != "" {
		result.Variables = map[string]any{assign: transformed}
	}
	return result, nil
}

// asCollection normalizes the supported collection shapes to []any.
func asCollection(raw any) ([]any, error) {
	switch val := raw.(type) {
	case []any:
		return val, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a collection, got %T", raw)
	}
}
