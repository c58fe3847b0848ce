package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Run("valid expression", func(t *testing.T) {
		e, err := Compile(`var.count > 3`)
		require.NoError(t, err)
		assert.Equal(t, `var.count > 3`, e.String())
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := Compile(`var.count >`)
		assert.ErrorContains(t, err, "failed to parse expression")
	})
}

func TestEval(t *testing.T) {
	scope := &Scope{
		Variables: map[string]any{
			"count":   int64(5),
			"name":    "deploy",
			"enabled": true,
			"items":   []any{int64(1), int64(2), int64(3)},
		},
		Tasks: map[string]TaskView{
			"build": {Status: "completed", Output: map[string]any{"artifact": "app.tar.gz", "size": int64(42)}},
		},
	}

	t.Run("variable lookup", func(t *testing.T) {
		e, err := Compile(`var.name`)
		require.NoError(t, err)
		got, err := e.EvalNative(scope)
		require.NoError(t, err)
		assert.Equal(t, "deploy", got)
	})

	t.Run("task output lookup", func(t *testing.T) {
		e, err := Compile(`task.build.output.artifact`)
		require.NoError(t, err)
		got, err := e.EvalNative(scope)
		require.NoError(t, err)
		assert.Equal(t, "app.tar.gz", got)
	})

	t.Run("task status lookup", func(t *testing.T) {
		e, err := Compile(`task.build.status == "completed"`)
		require.NoError(t, err)
		got, err := e.EvalBool(scope)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("comparison and logic", func(t *testing.T) {
		e, err := Compile(`var.count > 3 && var.enabled`)
		require.NoError(t, err)
		got, err := e.EvalBool(scope)
		require.NoError(t, err)
		assert.True(t, got)

		e, err = Compile(`var.count > 3 && !var.enabled`)
		require.NoError(t, err)
		got, err = e.EvalBool(scope)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("arithmetic", func(t *testing.T) {
		e, err := Compile(`var.count * 2 + task.build.output.size`)
		require.NoError(t, err)
		got, err := e.EvalNative(scope)
		require.NoError(t, err)
		assert.Equal(t, int64(52), got)
	})

	t.Run("conditional expression", func(t *testing.T) {
		e, err := Compile(`var.count > 10 ? "big" : "small"`)
		require.NoError(t, err)
		got, err := e.EvalNative(scope)
		require.NoError(t, err)
		assert.Equal(t, "small", got)
	})

	t.Run("whitelisted functions", func(t *testing.T) {
		e, err := Compile(`length(var.items)`)
		require.NoError(t, err)
		got, err := e.EvalNative(scope)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got)

		e, err = Compile(`upper(var.name)`)
		require.NoError(t, err)
		got, err = e.EvalNative(scope)
		require.NoError(t, err)
		assert.Equal(t, "DEPLOY", got)
	})

	t.Run("unknown root reference is rejected", func(t *testing.T) {
		e, err := Compile(`env.HOME`)
		require.NoError(t, err)
		_, err = e.Eval(scope)
		assert.ErrorContains(t, err, "unknown name 'env'")
	})

	t.Run("non-whitelisted function fails", func(t *testing.T) {
		e, err := Compile(`file("/etc/passwd")`)
		require.NoError(t, err)
		_, err = e.Eval(scope)
		assert.Error(t, err)
	})

	t.Run("non-boolean result fails EvalBool", func(t *testing.T) {
		e, err := Compile(`var.items`)
		require.NoError(t, err)
		_, err = e.EvalBool(scope)
		assert.ErrorContains(t, err, "did not produce a boolean")
	})
}

func TestEvalItemScope(t *testing.T) {
	scope := &Scope{
		Variables: map[string]any{},
		HasItem:   true,
		Item:      map[string]any{"price": int64(12)},
		Index:     2,
	}

	e, err := Compile(`item.price > 10`)
	require.NoError(t, err)
	got, err := e.EvalBool(scope)
	require.NoError(t, err)
	assert.True(t, got)

	e, err = Compile(`index`)
	require.NoError(t, err)
	idx, err := e.EvalNative(scope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx)
}

func TestEvalItemHiddenWithoutTransform(t *testing.T) {
	e, err := Compile(`item`)
	require.NoError(t, err)
	_, err = e.Eval(&Scope{})
	assert.ErrorContains(t, err, "unknown name 'item'")
}

func TestValueRoundTrip(t *testing.T) {
	original := map[string]any{
		"name":    "flowgrid",
		"count":   int64(7),
		"ratio":   0.5,
		"enabled": true,
		"nested":  map[string]any{"list": []any{"a", int64(1)}},
		"nothing": nil,
	}

	ctyVal, err := ToCty(original)
	require.NoError(t, err)
	back, err := FromCty(ctyVal)
	require.NoError(t, err)
	assert.Equal(t, original, back)
}

func TestToCtyUnsupported(t *testing.T) {
	_, err := ToCty(struct{}{})
	assert.ErrorContains(t, err, "unsupported value type")
}
