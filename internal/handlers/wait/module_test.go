package wait

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/workflow"
)

func invocation(duration any) *registry.Invocation {
	return &registry.Invocation{
		Task: &workflow.Task{ID: "pause", Type: "wait", Config: map[string]any{"duration": duration}},
	}
}

func TestValidateConfig(t *testing.T) {
	h := &Handler{}

	assert.NoError(t, h.ValidateConfig(map[string]any{"duration": "250ms"}))
	assert.NoError(t, h.ValidateConfig(map[string]any{"duration": 2}))
	assert.NoError(t, h.ValidateConfig(map[string]any{"duration": 0.5}))

	assert.Error(t, h.ValidateConfig(map[string]any{}))
	assert.Error(t, h.ValidateConfig(map[string]any{"duration": "later"}))
	assert.Error(t, h.ValidateConfig(map[string]any{"duration": "-1s"}))
	assert.Error(t, h.ValidateConfig(map[string]any{"duration": true}))
}

func TestExecute(t *testing.T) {
	h := &Handler{}

	t.Run("waits the configured duration", func(t *testing.T) {
		started := time.Now()
		result, err := h.Execute(context.Background(), invocation("50ms"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
		assert.Equal(t, "50ms", result.Output["waited"])
	})

	t.Run("numeric seconds", func(t *testing.T) {
		result, err := h.Execute(context.Background(), invocation(0.05))
		require.NoError(t, err)
		assert.Equal(t, "50ms", result.Output["waited"])
	})

	t.Run("cancellation ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		started := time.Now()
		_, err := h.Execute(ctx, invocation("10s"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(started), time.Second)
	})
}
