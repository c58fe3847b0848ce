// Package app encapsulates the application's dependencies, configuration,
// and lifecycle: it builds the logger, the handler registry, the state
// store, the engine, and the scheduler, and drives a workflow from the
// command line.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/engine"
	"github.com/vk/flowgrid/internal/handlers"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/scheduler"
	"github.com/vk/flowgrid/internal/state"
	"github.com/vk/flowgrid/internal/workflow"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	WorkflowPath string
	StateDir     string
	LogFormat    string
	LogLevel     string
	Watch        bool
	Overrides    map[string]any
}

// App wires the engine's components together for one process.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	registry  *registry.Registry
	store     state.Store
	engine    *engine.Engine
	scheduler *scheduler.Scheduler

	mutex       sync.RWMutex
	definitions map[string]*workflow.Definition
}

// New is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and registry.
// Passing no modules installs the built-in handler set.
func New(outW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)

	var store state.Store
	if cfg.StateDir != "" {
		fileStore, err := state.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		store = fileStore
	} else {
		store = state.NewMemoryStore()
	}

	reg := handlers.NewRegistry(modules...)
	eng := engine.New(store, reg)

	a := &App{
		outW:        outW,
		logger:      logger,
		registry:    reg,
		store:       store,
		engine:      eng,
		definitions: make(map[string]*workflow.Definition),
	}
	a.scheduler = scheduler.New(a.launch)
	return a, nil
}

// Engine exposes the engine, primarily for tests and embedding callers.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Registry exposes the handler registry so callers can override built-ins.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Scheduler exposes the trigger scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// AddDefinition makes a validated definition launchable by workflow id.
func (a *App) AddDefinition(def *workflow.Definition) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.definitions[def.ID] = def
}

// launch is the scheduler's entry point into the engine. Firing is
// fire-and-forget; failures surface through the store, not the scheduler.
func (a *App) launch(ctx context.Context, workflowID string, overrides map[string]any) {
	a.mutex.RLock()
	def, ok := a.definitions[workflowID]
	a.mutex.RUnlock()
	if !ok {
		a.logger.Error("Scheduled workflow is not loaded.", "workflow_id", workflowID)
		return
	}

	if _, err := a.engine.Execute(ctx, def, overrides); err != nil {
		a.logger.Error("Scheduled execution failed to persist.", "workflow_id", workflowID, "error", err)
	}
}

// Run loads the configured workflow file and either executes it once or,
// with --watch and a schedule present, keeps firing it on its cron trigger
// until the context is cancelled.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	def, err := workflow.LoadFile(ctx, cfg.WorkflowPath)
	if err != nil {
		return err
	}
	a.AddDefinition(def)

	if cfg.Watch {
		if def.Schedule == "" {
			return fmt.Errorf("app: --watch requires a 'schedule' in %s", cfg.WorkflowPath)
		}
		trigger := scheduler.Trigger{Type: scheduler.TypeCron, Expression: def.Schedule}
		scheduleID, err := a.scheduler.Add(def.ID, trigger, cfg.Overrides)
		if err != nil {
			return err
		}
		a.logger.Info("Watching schedule.", "workflow", def.Name, "schedule", def.Schedule, "schedule_id", scheduleID)

		a.scheduler.Start(ctx)
		<-ctx.Done()
		a.scheduler.Stop(context.WithoutCancel(ctx))
		return nil
	}

	execution, err := a.engine.Execute(ctx, def, cfg.Overrides)
	if err != nil {
		return err
	}
	a.printSummary(execution)

	if execution.Status != state.StatusCompleted {
		return fmt.Errorf("execution %s finished with status %s", execution.ID, execution.Status)
	}
	return nil
}

// printSummary writes a human-readable execution report to the app's output.
func (a *App) printSummary(execution *state.Execution) {
	fmt.Fprintf(a.outW, "\nWorkflow:  %s\n", execution.Workflow)
	fmt.Fprintf(a.outW, "Execution: %s\n", execution.ID)
	fmt.Fprintf(a.outW, "Status:    %s\n", execution.Status)
	fmt.Fprintf(a.outW, "Duration:  %s\n", execution.Duration)
	fmt.Fprintf(a.outW, "Tasks:     %d completed\n", execution.CompletedTasks)
	if execution.Error != "" {
		fmt.Fprintf(a.outW, "Error:     %s\n", execution.Error)
	}
	for id, tr := range execution.TaskResults {
		line := fmt.Sprintf("  - %s: %s", id, tr.Status)
		if tr.Attempts > 1 {
			line += fmt.Sprintf(" (attempts: %d)", tr.Attempts)
		}
		if tr.Reason != "" {
			line += fmt.Sprintf(" (%s)", tr.Reason)
		}
		fmt.Fprintln(a.outW, line)
	}
}
