// Package notify defines the structured notification outcomes that
// cart operations emit towards an external toast sink.
package notify

import (
	"log/slog"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Warning Kind = "warning"
	Info    Kind = "info"
)

// UndoWindow is how long destructive-operation notifications stay
// actionable.
const UndoWindow = 8 * time.Second

// Action is an optional notification affordance. Undo handlers close
// over value-captured snapshots of the removed state; retry handlers
// close over the original operation arguments.
type Action struct {
	Label   string
	Handler func()
}

// Notification is one structured outcome message.
type Notification struct {
	Kind     Kind
	Title    string
	Message  string
	Action   *Action
	Duration time.Duration
}

// Notifier is the external toast sink consumed by cart operations.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to the Notifier interface.
type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the structured log. It stands
// in for a real UI sink in headless deployments.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(msg Notification) {
	attrs := []any{
		slog.String("kind", string(msg.Kind)),
		slog.String("title", msg.Title),
		slog.String("message", msg.Message),
	}
	if msg.Action != nil {
		attrs = append(attrs, slog.String("action", msg.Action.Label))
	}

	switch msg.Kind {
	case Error:
		n.log.Error("cart notification", attrs...)
	case Warning:
		n.log.Warn("cart notification", attrs...)
	default:
		n.log.Info("cart notification", attrs...)
	}
}
