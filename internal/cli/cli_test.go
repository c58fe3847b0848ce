package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("workflow flag", func(t *testing.T) {
		cfg, shouldExit, err := Parse([]string{"-workflow", "deploy.yaml"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.False(t, shouldExit)
		assert.Equal(t, "deploy.yaml", cfg.WorkflowPath)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.False(t, cfg.Watch)
	})

	t.Run("shorthand and positional", func(t *testing.T) {
		cfg, _, err := Parse([]string{"-w", "short.yaml"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "short.yaml", cfg.WorkflowPath)

		cfg, _, err = Parse([]string{"positional.yaml"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "positional.yaml", cfg.WorkflowPath)
	})

	t.Run("repeated var overrides", func(t *testing.T) {
		cfg, _, err := Parse([]string{"-var", "env=prod", "-var", "region=eu", "wf.yaml"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"env": "prod", "region": "eu"}, cfg.Overrides)
	})

	t.Run("malformed var", func(t *testing.T) {
		_, _, err := Parse([]string{"-var", "no-equals", "wf.yaml"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})

	t.Run("watch and state dir", func(t *testing.T) {
		cfg, _, err := Parse([]string{"-watch", "-state-dir", "/tmp/runs", "wf.yaml"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.True(t, cfg.Watch)
		assert.Equal(t, "/tmp/runs", cfg.StateDir)
	})

	t.Run("invalid log format", func(t *testing.T) {
		_, _, err := Parse([]string{"-log-format", "xml", "wf.yaml"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "invalid log format")
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, _, err := Parse([]string{"-log-level", "loud", "wf.yaml"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "invalid log level")
	})

	t.Run("no path prints usage and exits cleanly", func(t *testing.T) {
		var out bytes.Buffer
		cfg, shouldExit, err := Parse(nil, &out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	})

	t.Run("help flag exits cleanly", func(t *testing.T) {
		_, shouldExit, err := Parse([]string{"-h"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.True(t, shouldExit)
	})
}
