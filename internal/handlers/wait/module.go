// Package wait provides the built-in 'wait' task type: it suspends for a
// configured duration. The suspension is cooperative; cancelling the
// invocation context ends the wait immediately.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Handler suspends for the configured duration.
type Handler struct{}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(context.Background(), "wait", &Handler{})
}

// parseDuration reads the 'duration' config key, accepting either a Go
// duration string or a bare number of seconds.
func parseDuration(config map[string]any) (time.Duration, error) {
	switch raw := config["duration"].(type) {
	case string:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", raw, err)
		}
		return d, nil
	case int:
		return time.Duration(raw) * time.Second, nil
	case float64:
		return time.Duration(raw * float64(time.Second)), nil
	case nil:
		return 0, fmt.Errorf("missing required config key 'duration'")
	default:
		return 0, fmt.Errorf("config key 'duration' must be a duration string or number of seconds, got %T", raw)
	}
}

// ValidateConfig requires a non-negative 'duration'.
func (h *Handler) ValidateConfig(config map[string]any) error {
	d, err := parseDuration(config)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}

// Execute implements registry.Handler.
func (h *Handler) Execute(ctx context.Context, inv *registry.Invocation) (*registry.Result, error) {
	d, err := parseDuration(inv.Task.Config)
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("Waiting.", "task", inv.Task.ID, "duration", d)
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &registry.Result{
		Output: map[string]any{"waited": d.String()},
	}, nil
}
