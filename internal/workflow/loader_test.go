package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDocument() *Document {
	return &Document{
		Name:    "release",
		Version: "1.0",
		Variables: map[string]any{
			"environment": "staging",
		},
		Tasks: []TaskDocument{
			{ID: "build", Type: "expression", Config: map[string]any{"expression": `"ok"`}},
			{ID: "test", Type: "expression", DependsOn: []string{"build"}},
			{ID: "deploy", Type: "expression", DependsOn: []string{"build", "test"}},
		},
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("valid document", func(t *testing.T) {
		def, err := Load(ctx, validDocument())
		require.NoError(t, err)

		assert.NotEmpty(t, def.ID, "an id is assigned when absent")
		assert.Equal(t, "release", def.Name)
		assert.Equal(t, "staging", def.Variables["environment"])
		require.Len(t, def.Tasks, 3)

		// Declaration order is preserved; it is the engine's tie-break.
		assert.Equal(t, "build", def.Tasks[0].ID)
		assert.Equal(t, "test", def.Tasks[1].ID)
		assert.Equal(t, "deploy", def.Tasks[2].ID)

		// Defaults.
		assert.Equal(t, 1, def.Tasks[0].Retry.MaxAttempts)
		assert.Equal(t, float64(1), def.Tasks[0].Retry.Backoff)
		assert.Zero(t, def.Tasks[0].Timeout)
	})

	t.Run("graph queries", func(t *testing.T) {
		def, err := Load(ctx, validDocument())
		require.NoError(t, err)

		assert.Equal(t, []string{"build"}, def.Roots())
		assert.ElementsMatch(t, []string{"test", "deploy"}, def.Dependents("build"))
		assert.Equal(t, []string{"deploy"}, def.Dependents("test"))
		assert.Empty(t, def.Dependents("deploy"))
		assert.Empty(t, def.Dependents("nope"))
	})

	t.Run("config does not alias the document", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[0].Config = map[string]any{
			"expression": `"ok"`,
			"nested":     map[string]any{"key": "original"},
		}
		def, err := Load(ctx, doc)
		require.NoError(t, err)

		doc.Tasks[0].Config["expression"] = "mutated"
		doc.Tasks[0].Config["nested"].(map[string]any)["key"] = "mutated"

		task := def.Task("build")
		assert.Equal(t, `"ok"`, task.Config["expression"])
		assert.Equal(t, "original", task.Config["nested"].(map[string]any)["key"])
	})

	t.Run("explicit id is kept", func(t *testing.T) {
		doc := validDocument()
		doc.ID = "wf-42"
		def, err := Load(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "wf-42", def.ID)
	})

	t.Run("missing name", func(t *testing.T) {
		doc := validDocument()
		doc.Name = ""
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Contains(t, defErr.Reason, "name")
	})

	t.Run("missing task id", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[1].ID = ""
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Contains(t, defErr.Reason, "id")
	})

	t.Run("missing task type", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[0].Type = ""
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Equal(t, "build", defErr.TaskID)
		assert.Contains(t, defErr.Reason, "type")
	})

	t.Run("duplicate task id", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[2].ID = "build"
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Contains(t, defErr.Reason, "duplicate")
	})

	t.Run("unknown dependency", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[1].DependsOn = []string{"nope"}
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Equal(t, "test", defErr.TaskID)
		assert.Contains(t, defErr.Reason, "'nope'")
	})

	t.Run("dependency cycle", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[0].DependsOn = []string{"deploy"}
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Contains(t, defErr.Reason, "cycle")
	})

	t.Run("invalid condition expression", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[1].Conditions = []string{"var.x >"}
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Contains(t, defErr.Reason, "condition")
	})

	t.Run("retry and timeout parsing", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[0].Timeout = "30s"
		doc.Tasks[0].Retry = &RetryDocument{MaxAttempts: 3, Delay: "100ms", Backoff: 2}
		def, err := Load(ctx, doc)
		require.NoError(t, err)

		task := def.Tasks[0]
		assert.Equal(t, 30*time.Second, task.Timeout)
		assert.Equal(t, 3, task.Retry.MaxAttempts)
		assert.Equal(t, 100*time.Millisecond, task.Retry.Delay)
		assert.Equal(t, float64(2), task.Retry.Backoff)
	})

	t.Run("invalid timeout", func(t *testing.T) {
		doc := validDocument()
		doc.Tasks[0].Timeout = "soon"
		_, err := Load(ctx, doc)
		var defErr *DefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Contains(t, defErr.Reason, "timeout")
	})

	t.Run("nil document", func(t *testing.T) {
		_, err := Load(ctx, nil)
		assert.Error(t, err)
	})
}

func TestRetryPolicyDelayFor(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, Delay: 100 * time.Millisecond, Backoff: 2}

	assert.Equal(t, 100*time.Millisecond, policy.DelayFor(1))
	assert.Equal(t, 200*time.Millisecond, policy.DelayFor(2))
	assert.Equal(t, 400*time.Millisecond, policy.DelayFor(3))

	constant := RetryPolicy{MaxAttempts: 3, Delay: 50 * time.Millisecond, Backoff: 1}
	assert.Equal(t, 50*time.Millisecond, constant.DelayFor(3))
}

func TestParseYAML(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		data := []byte(`
name: nightly-report
version: "2"
schedule: "0 3 * * *"
variables:
  limit: 10
tasks:
  - id: fetch
    type: expression
    config:
      expression: var.limit * 2
  - id: summarize
    type: notification
    depends_on: [fetch]
    parallel: true
    timeout: 5s
    retry:
      max_attempts: 3
      delay: 1s
      backoff: 2
    config:
      channel: ops
      message: done
`)
		doc, err := ParseYAML(data)
		require.NoError(t, err)
		assert.Equal(t, "nightly-report", doc.Name)
		assert.Equal(t, "0 3 * * *", doc.Schedule)
		require.Len(t, doc.Tasks, 2)
		assert.True(t, doc.Tasks[1].Parallel)
		assert.Equal(t, []string{"fetch"}, doc.Tasks[1].DependsOn)

		def, err := Load(context.Background(), doc)
		require.NoError(t, err)
		assert.Equal(t, 3, def.Tasks[1].Retry.MaxAttempts)
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := ParseYAML([]byte("  \n"))
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ParseYAML([]byte("tasks: ["))
		assert.Error(t, err)
	})
}
