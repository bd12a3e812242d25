package fakes

import (
	"context"
	"sync"

	"github.com/omniusstudio/pms-keyrotation/internal/rotation/notifications"
)

// NotificationSink is a notifications.Provider that records every event it
// receives.
type NotificationSink struct {
	mu     sync.Mutex
	events []notifications.Event

	// Err, when set, is returned from every Send.
	Err error
}

// NewNotificationSink creates an empty sink.
func NewNotificationSink() *NotificationSink {
	return &NotificationSink{}
}

func (s *NotificationSink) Name() string {
	return "fake-sink"
}

func (s *NotificationSink) SupportsEvent(eventType notifications.EventType) bool {
	return true
}

func (s *NotificationSink) Validate(ctx context.Context) error {
	return nil
}

func (s *NotificationSink) Send(ctx context.Context, event notifications.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *NotificationSink) Events() []notifications.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notifications.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType returns the recorded events matching t.
func (s *NotificationSink) EventsOfType(t notifications.EventType) []notifications.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notifications.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
