package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/workflow"
)

func invocation(expression string, variables map[string]any) *registry.Invocation {
	return &registry.Invocation{
		Task:      &workflow.Task{ID: "gate", Type: "condition", Config: map[string]any{"expression": expression}},
		Variables: variables,
	}
}

func TestValidateConfig(t *testing.T) {
	h := &Handler{}

	assert.NoError(t, h.ValidateConfig(map[string]any{"expression": "var.ready"}))
	assert.Error(t, h.ValidateConfig(map[string]any{}))
	assert.Error(t, h.ValidateConfig(map[string]any{"expression": "&&"}))
}

func TestExecute(t *testing.T) {
	h := &Handler{}
	ctx := context.Background()

	t.Run("true branch", func(t *testing.T) {
		result, err := h.Execute(ctx, invocation("var.count > 3", map[string]any{"count": int64(5)}))
		require.NoError(t, err)
		assert.Equal(t, true, result.Output["result"])
		assert.Equal(t, "true", result.Output["branch"])
	})

	t.Run("false branch", func(t *testing.T) {
		result, err := h.Execute(ctx, invocation("var.count > 3", map[string]any{"count": int64(1)}))
		require.NoError(t, err)
		assert.Equal(t, false, result.Output["result"])
		assert.Equal(t, "false", result.Output["branch"])
	})

	t.Run("non-boolean expression", func(t *testing.T) {
		_, err := h.Execute(ctx, invocation(`"yes"`, map[string]any{}))
		assert.Error(t, err)
	})
}
