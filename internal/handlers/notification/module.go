// Package notification provides the built-in 'notification' task type: it
// renders a notification descriptor and hands it to a pluggable sink. The
// actual delivery channel (chat, email, pager) is an external collaborator
// behind the Sink interface; the default sink logs and records in memory so
// tests and dry runs can observe what would have been sent.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/registry"
)

// Notification is the descriptor handed to the sink.
type Notification struct {
	Channel string
	Message string
	Level   string
	TaskID  string
	SentAt  time.Time
}

// Sink receives rendered notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Module implements the registry.Module interface for this package. A nil
// Sink falls back to logging.
type Module struct {
	Sink Sink
}

// Handler renders and dispatches notifications.
type Handler struct {
	sink Sink
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	sink := m.Sink
	if sink == nil {
		sink = logSink{}
	}
	r.Register(context.Background(), "notification", &Handler{sink: sink})
}

// ValidateConfig requires 'channel' and 'message'; every `${...}`
// interpolation inside the message must parse.
func (h *Handler) ValidateConfig(config map[string]any) error {
	channel, ok := config["channel"].(string)
	if !ok || channel == "" {
		return fmt.Errorf("missing required config key 'channel'")
	}
	message, ok := config["message"].(string)
	if !ok || message == "" {
		return fmt.Errorf("missing required config key 'message'")
	}
	sources, err := interpolations(message)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if _, err := expr.Compile(src); err != nil {
			return err
		}
	}
	return nil
}

// Execute implements registry.Handler.
func (h *Handler) Execute(ctx context.Context, inv *registry.Invocation) (*registry.Result, error) {
	channel := inv.Task.Config["channel"].(string)
	message := inv.Task.Config["message"].(string)
	level, _ := inv.Task.Config["level"].(string)
	if level == "" {
		level = "info"
	}

	rendered, err := interpolate(message, inv.Scope())
	if err != nil {
		return nil, err
	}

	n := Notification{
		Channel: channel,
		Message: rendered,
		Level:   level,
		TaskID:  inv.Task.ID,
		SentAt:  time.Now(),
	}
	if err := h.sink.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("dispatch notification to '%s': %w", channel, err)
	}

	return &registry.Result{
		Output: map[string]any{
			"channel": channel,
			"message": rendered,
			"level":   level,
		},
	}, nil
}

// interpolations extracts the expression sources inside `${...}` markers.
// An unterminated marker is a typo in the message, not literal text.
func interpolations(message string) ([]string, error) {
	var sources []string
	for rest := message; ; {
		start := strings.Index(rest, "${")
		if start < 0 {
			return sources, nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated interpolation marker in message %q", message)
		}
		sources = append(sources, rest[start+2:start+end])
		rest = rest[start+end+1:]
	}
}

// interpolate replaces each `${...}` marker with its evaluated value.
func interpolate(message string, scope *expr.Scope) (string, error) {
	var sb strings.Builder
	rest := message
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated interpolation marker in message %q", message)
		}

		sb.WriteString(rest[:start])
		src := rest[start+2 : start+end]
		compiled, err := expr.Compile(src)
		if err != nil {
			return "", err
		}
		value, err := compiled.EvalNative(scope)
		if err != nil {
			return "", err
		}
		sb.WriteString(fmt.Sprintf("%v", value))
		rest = rest[start+end+1:]
	}
}

// logSink is the default sink: it records the notification in the execution
// log only.
type logSink struct{}

func (logSink) Notify(ctx context.Context, n Notification) error {
	ctxlog.FromContext(ctx).Info("Notification dispatched.",
		"channel", n.Channel, "level", n.Level, "message", n.Message)
	return nil
}

// MemorySink collects notifications for inspection, mainly in tests.
type MemorySink struct {
	mutex sync.Mutex
	sent  []Notification
}

// Notify implements Sink.
func (s *MemorySink) Notify(_ context.Context, n Notification) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (s *MemorySink) Sent() []Notification {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Notification(nil), s.sent...)
}
