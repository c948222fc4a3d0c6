// Package broadcast defines the port for pushing decision lifecycle events
// to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards every event. It is used by the CLI and by tests.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
