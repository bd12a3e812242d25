// Package notifications provides best-effort delivery of rotation outcome
// events. Delivery failures never fail a rotation.
package notifications

import (
	"context"
)

// Provider defines the interface for sending rotation notifications.
type Provider interface {
	// Name returns the provider name (e.g., "webhook", "log").
	Name() string

	// Send delivers a notification for the given rotation event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}
