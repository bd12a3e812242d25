package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a test double for Provider.
type fakeProvider struct {
	name          string
	supportedEvts []EventType
	sendFunc      func(ctx context.Context, event Event) error
	mu            sync.Mutex
	sentEvents    []Event
	sendDelay     time.Duration
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:          name,
		supportedEvts: AllEventTypes(),
		sentEvents:    make([]Event, 0),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) SupportsEvent(eventType EventType) bool {
	for _, e := range p.supportedEvts {
		if e == eventType {
			return true
		}
	}
	return false
}

func (p *fakeProvider) Validate(ctx context.Context) error { return nil }

func (p *fakeProvider) Send(ctx context.Context, event Event) error {
	if p.sendDelay > 0 {
		select {
		case <-time.After(p.sendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.sendFunc != nil {
		return p.sendFunc(ctx, event)
	}

	p.mu.Lock()
	p.sentEvents = append(p.sentEvents, event)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) getSentEvents() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]Event, len(p.sentEvents))
	copy(events, p.sentEvents)
	return events
}

func successEvent(keyID string) Event {
	return Event{
		Type:          EventTypeRotationSucceeded,
		TenantID:      "tenant-a",
		PolicyID:      "pol-1",
		KeyID:         keyID,
		CorrelationID: "corr-" + keyID,
		Timestamp:     time.Now(),
	}
}

func TestManager_RegisterProvider(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	m.RegisterProvider(newFakeProvider("test1"))
	m.RegisterProvider(newFakeProvider("test2"))

	assert.Len(t, m.Providers(), 2)
}

func TestManager_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx)
	m.Stop()
	m.Stop()
}

func TestManager_DeliversToSupportingProviders(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	allEvents := newFakeProvider("all")
	failuresOnly := newFakeProvider("failures")
	failuresOnly.supportedEvts = []EventType{EventTypeRotationFailed}
	m.RegisterProvider(allEvents)
	m.RegisterProvider(failuresOnly)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.Send(successEvent("key-1"))
	m.Send(Event{Type: EventTypeRotationFailed, TenantID: "tenant-a", KeyID: "key-2", Error: "boom"})
	m.Stop()

	assert.Len(t, allEvents.getSentEvents(), 2)
	failed := failuresOnly.getSentEvents()
	require.Len(t, failed, 1)
	assert.Equal(t, "key-2", failed[0].KeyID)
}

func TestManager_SendBeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	p := newFakeProvider("test")
	m.RegisterProvider(p)

	m.Send(successEvent("key-1"))

	assert.Empty(t, p.getSentEvents())
	assert.Zero(t, m.DroppedCount())
}

func TestManager_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	m := NewManager(2, nil, nil)
	blocked := newFakeProvider("slow")
	release := make(chan struct{})
	blocked.sendFunc = func(ctx context.Context, event Event) error {
		<-release
		return nil
	}
	m.RegisterProvider(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	// One event blocks the worker, two fill the queue; the rest drop.
	for i := 0; i < 6; i++ {
		m.Send(successEvent("key"))
	}
	assert.GreaterOrEqual(t, m.DroppedCount(), int64(3))

	close(release)
	m.Stop()
}

func TestManager_ProviderErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	failing := newFakeProvider("failing")
	failing.sendFunc = func(ctx context.Context, event Event) error {
		return errors.New("endpoint down")
	}
	healthy := newFakeProvider("healthy")
	m.RegisterProvider(failing)
	m.RegisterProvider(healthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.Send(successEvent("key-1"))
	m.Stop()

	assert.Len(t, healthy.getSentEvents(), 1)
}

func TestManager_StopDrainsQueue(t *testing.T) {
	t.Parallel()

	m := NewManager(50, nil, nil)
	p := newFakeProvider("test")
	m.RegisterProvider(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	for i := 0; i < 20; i++ {
		m.Send(successEvent("key"))
	}
	m.Stop()

	assert.Len(t, p.getSentEvents(), 20)
}
