// Package notifier defines the notification port (interface) and the
// severity ordering used to filter escalation alerts.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level is the severity of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Rank orders levels; unknown levels rank as info.
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool { return l.Rank() >= min.Rank() }

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Level     Level             `json:"level"`
	Source    string            `json:"source"` // e.g. "decision.awaiting_human"
	RequestID string            `json:"request_id,omitempty"`
	Link      string            `json:"link,omitempty"` // where a human can act on it
	Fields    map[string]string `json:"fields,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack", "email").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
