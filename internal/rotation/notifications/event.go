package notifications

import (
	"time"
)

// EventType represents the type of rotation lifecycle event.
type EventType string

const (
	// EventTypeRotationSucceeded indicates a key finished rotating.
	EventTypeRotationSucceeded EventType = "rotation_succeeded"

	// EventTypeRotationFailed indicates a rotation reached a terminal failure.
	EventTypeRotationFailed EventType = "rotation_failed"

	// EventTypeRollbackPerformed indicates a succeeded rotation was reverted.
	EventTypeRollbackPerformed EventType = "rollback_performed"
)

// Event is the notification payload for one rotation outcome. It carries
// identifiers only, never key material.
type Event struct {
	Type EventType

	TenantID string
	PolicyID string
	KeyID    string

	// CorrelationID ties the notification back to the audit record.
	CorrelationID string

	PreviousKMSKeyID string
	NewKMSKeyID      string

	// Error holds the failure message for rotation_failed events.
	Error string

	Duration  time.Duration
	Timestamp time.Time
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeRotationSucceeded,
		EventTypeRotationFailed,
		EventTypeRollbackPerformed,
	}
}
