// Package scheduler maintains time- and event-based triggers and starts new
// workflow executions when they come due. The loop ticks once per second;
// firing is fire-and-forget, so a slow execution never delays the next tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/vk/flowgrid/internal/ctxlog"
)

// Trigger types.
const (
	TypeCron  = "cron"
	TypeEvent = "event"
)

// Trigger describes when a schedule fires: a cron expression (with optional
// leading seconds field) or a named event descriptor.
type Trigger struct {
	Type       string
	Expression string
	Event      string
}

// TriggerError means a trigger failed validation at registration time.
// Malformed triggers are always rejected explicitly, never dropped.
type TriggerError struct {
	Trigger Trigger
	Cause   error
}

// Error implements the error interface.
func (e *TriggerError) Error() string {
	if e.Trigger.Type == TypeCron {
		return fmt.Sprintf("invalid cron trigger '%s': %v", e.Trigger.Expression, e.Cause)
	}
	return fmt.Sprintf("invalid %s trigger: %v", e.Trigger.Type, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *TriggerError) Unwrap() error {
	return e.Cause
}

// Launcher starts one execution of a workflow. The scheduler calls it
// without waiting for completion.
type Launcher func(ctx context.Context, workflowID string, overrides map[string]any)

// entry is one registered schedule.
type entry struct {
	id         string
	workflowID string
	trigger    Trigger
	overrides  map[string]any

	// schedule and next are only set for cron triggers.
	schedule cron.Schedule
	next     time.Time
}

// Entry is the read-only listing form of a schedule.
type Entry struct {
	ID         string
	WorkflowID string
	Trigger    Trigger
	Next       time.Time
}

// cronParser accepts standard five-field expressions plus an optional
// leading seconds field, so sub-minute schedules work.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns the schedule table and the background firing loop.
type Scheduler struct {
	launch Launcher

	mutex   sync.Mutex
	entries map[string]*entry
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped scheduler that fires executions via the launcher.
func New(launch Launcher) *Scheduler {
	return &Scheduler{
		launch:  launch,
		entries: make(map[string]*entry),
	}
}

// Add registers a schedule and returns its id. Multiple independent
// schedules per workflow are allowed. A malformed trigger fails registration
// with a *TriggerError.
func (s *Scheduler) Add(workflowID string, trigger Trigger, overrides map[string]any) (string, error) {
	e := &entry{
		id:         uuid.NewString(),
		workflowID: workflowID,
		trigger:    trigger,
		overrides:  overrides,
	}

	switch trigger.Type {
	case TypeCron:
		if trigger.Expression == "" {
			return "", &TriggerError{Trigger: trigger, Cause: fmt.Errorf("missing expression")}
		}
		schedule, err := cronParser.Parse(trigger.Expression)
		if err != nil {
			return "", &TriggerError{Trigger: trigger, Cause: err}
		}
		e.schedule = schedule
		e.next = schedule.Next(time.Now())
	case TypeEvent:
		if trigger.Event == "" {
			return "", &TriggerError{Trigger: trigger, Cause: fmt.Errorf("missing event descriptor")}
		}
	default:
		return "", &TriggerError{Trigger: trigger, Cause: fmt.Errorf("unknown trigger type '%s'", trigger.Type)}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[e.id] = e
	return e.id, nil
}

// Remove deletes a schedule. Removing an unknown id is an error so callers
// notice stale handles.
func (s *Scheduler) Remove(scheduleID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.entries[scheduleID]; !ok {
		return fmt.Errorf("scheduler: no schedule '%s'", scheduleID)
	}
	delete(s.entries, scheduleID)
	return nil
}

// Entries lists the registered schedules.
func (s *Scheduler) Entries() []Entry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{ID: e.id, WorkflowID: e.workflowID, Trigger: e.trigger, Next: e.next})
	}
	return out
}

// Start launches the background loop. Starting a running scheduler is a
// no-op. Cron next-fire times are recomputed from now, so a stop/start gap
// never produces a burst of catch-up firings.
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	now := time.Now()
	for _, e := range s.entries {
		if e.schedule != nil {
			e.next = e.schedule.Next(now)
		}
	}
	stopCh := s.stopCh
	s.mutex.Unlock()

	ctxlog.FromContext(ctx).Debug("Scheduler started.")
	s.wg.Add(1)
	go s.loop(ctx, stopCh)
}

// Stop halts the loop. After Stop returns no new firings happen; executions
// already launched are not cancelled.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mutex.Unlock()

	s.wg.Wait()
	ctxlog.FromContext(ctx).Debug("Scheduler stopped.")
}

// loop ticks once per second and fires every cron entry that has come due.
func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

// fireDue launches every cron entry whose next-fire time has passed and
// advances it.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	logger := ctxlog.FromContext(ctx)

	s.mutex.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.schedule == nil || e.next.IsZero() {
			continue
		}
		if !now.Before(e.next) {
			due = append(due, e)
			e.next = e.schedule.Next(now)
		}
	}
	s.mutex.Unlock()

	for _, e := range due {
		logger.Debug("Schedule due, firing execution.",
			"schedule", e.id, "workflow", e.workflowID, "expression", e.trigger.Expression)
		go s.launch(ctx, e.workflowID, e.overrides)
	}
}

// Fire launches every event-triggered schedule registered for the named
// event. It works whether or not the loop is running; event delivery itself
// is the caller's concern.
func (s *Scheduler) Fire(ctx context.Context, event string) int {
	s.mutex.Lock()
	var matched []*entry
	for _, e := range s.entries {
		if e.trigger.Type == TypeEvent && e.trigger.Event == event {
			matched = append(matched, e)
		}
	}
	s.mutex.Unlock()

	for _, e := range matched {
		ctxlog.FromContext(ctx).Debug("Event fired schedule.", "schedule", e.id, "workflow", e.workflowID, "event", event)
		go s.launch(ctx, e.workflowID, e.overrides)
	}
	return len(matched)
}
