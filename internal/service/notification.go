// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/arbiter/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers []notifier.Notifier
	minLevel  notifier.Level
	timeout   time.Duration
}

// NewNotificationService creates a NotificationService with the given
// notifiers. Notifications below minLevel are dropped; an empty minLevel
// lets everything through. timeout bounds each delivery round.
func NewNotificationService(notifiers []notifier.Notifier, minLevel notifier.Level, timeout time.Duration) *NotificationService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationService{
		notifiers: notifiers,
		minLevel:  minLevel,
		timeout:   timeout,
	}
}

// Notify sends a notification to all registered notifiers in parallel.
// Errors are logged but do not interrupt delivery to other notifiers, and
// a cancelled caller context does not abort delivery already under way.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if s == nil || len(s.notifiers) == 0 {
		return
	}
	if s.minLevel != "" && !n.Level.AtLeast(s.minLevel) {
		slog.Debug("notification below threshold", "source", n.Source, "level", n.Level)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var g errgroup.Group
	for _, provider := range s.notifiers {
		g.Go(func() error {
			if err := provider.Send(ctx, n); err != nil {
				slog.Warn("notification send failed",
					"provider", provider.Name(),
					"title", n.Title,
					"request_id", n.RequestID,
					"error", err,
				)
				return nil
			}
			slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
			return nil
		})
	}
	_ = g.Wait()
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	if s == nil {
		return 0
	}
	return len(s.notifiers)
}
