// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates CLI flags into the application's internal configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/flowgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// varFlags collects repeated -var key=value overrides.
type varFlags map[string]string

func (v varFlags) String() string {
	pairs := make([]string, 0, len(v))
	for k, val := range v {
		pairs = append(pairs, k+"="+val)
	}
	return strings.Join(pairs, ",")
}

func (v varFlags) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got '%s'", raw)
	}
	v[key] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("flowgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Flowgrid - a declarative workflow execution engine.

Usage:
  flowgrid [options] [WORKFLOW_PATH]

Arguments:
  WORKFLOW_PATH
    Path to a workflow definition file (.yaml).

Options:
`)
		flagSet.PrintDefaults()
	}

	workflowFlag := flagSet.String("workflow", "", "Path to the workflow definition file.")
	wFlag := flagSet.String("w", "", "Path to the workflow definition file (shorthand).")
	stateDirFlag := flagSet.String("state-dir", "", "Directory for persisted execution state. Empty keeps state in memory.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	watchFlag := flagSet.Bool("watch", false, "Keep running and fire the workflow on its cron schedule.")
	vars := make(varFlags)
	flagSet.Var(vars, "var", "Variable override as key=value. May be repeated.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *workflowFlag != "" {
		path = *workflowFlag
	} else if *wFlag != "" {
		path = *wFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Workflow path determined.", "path", path)

	if path == "" {
		slog.Debug("No workflow path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("invalid log format '%s'", logFormat)}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("invalid log level '%s'", logLevel)}
	}

	overrides := make(map[string]any, len(vars))
	for k, v := range vars {
		overrides[k] = v
	}

	return &app.Config{
		WorkflowPath: path,
		StateDir:     *stateDirFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		Watch:        *watchFlag,
		Overrides:    overrides,
	}, false, nil
}
