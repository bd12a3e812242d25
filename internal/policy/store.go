package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
)

// Store is the tenant-scoped persistence contract for rotation policies.
// Every read and write is bound to a single tenant; no operation spans
// tenants.
type Store interface {
	Create(ctx context.Context, draft Draft) (*Policy, error)
	Update(ctx context.Context, tenantID, id string, patch Patch) (*Policy, error)
	Suspend(ctx context.Context, tenantID, id string) (*Policy, error)
	Activate(ctx context.Context, tenantID, id string) (*Policy, error)
	Get(ctx context.Context, tenantID, id string) (*Policy, error)
	List(ctx context.Context, tenantID string, filter Filter) ([]*Policy, error)

	// Tenants lists tenant ids that have at least one policy. The scheduler
	// iterates this so each scan stays tenant-scoped.
	Tenants(ctx context.Context) ([]string, error)

	// ListDue returns active time-based policies within one tenant whose
	// next rotation instant is at or before now.
	ListDue(ctx context.Context, tenantID string, now time.Time) ([]*Policy, error)

	// AdvanceSchedule persists a completed cycle: last rotation stamp and the
	// recomputed next rotation instant. Called only by the scheduler.
	AdvanceSchedule(ctx context.Context, tenantID, id string, lastRotation, next time.Time) error
}

// Validate checks a trigger plus retention settings against the policy
// configuration rules. Violations return InvalidPolicyConfig.
func Validate(trigger Trigger, rollback RollbackSettings, retainOldKeysDays int) error {
	switch trigger.Type {
	case TriggerTimeBased:
		tb := trigger.TimeBased
		if tb == nil {
			return kerrors.InvalidPolicyConfig("trigger.time_based", "time-based trigger requires schedule fields")
		}
		if tb.IntervalDays < 1 {
			return kerrors.InvalidPolicyConfig("trigger.time_based.interval_days", fmt.Sprintf("must be >= 1, got %d", tb.IntervalDays))
		}
		if _, _, err := schedule.ParseTimeOfDay(tb.TimeOfDay); err != nil {
			return kerrors.InvalidPolicyConfig("trigger.time_based.time_of_day", "must be a valid 24h HH:MM time")
		}
		if _, err := time.LoadLocation(tb.Timezone); err != nil || tb.Timezone == "" {
			return kerrors.InvalidPolicyConfig("trigger.time_based.timezone", fmt.Sprintf("unrecognized IANA zone %q", tb.Timezone))
		}
	case TriggerUsageBased:
		if trigger.UsageBased == nil || trigger.UsageBased.MaxUsageCount < 1 {
			return kerrors.InvalidPolicyConfig("trigger.usage_based.max_usage_count", "must be >= 1")
		}
	case TriggerEventBased:
		if trigger.EventBased == nil || len(trigger.EventBased.Events) == 0 {
			return kerrors.InvalidPolicyConfig("trigger.event_based.events", "at least one event is required")
		}
	case TriggerManual:
		// No schedule fields to validate.
	default:
		return kerrors.InvalidPolicyConfig("trigger.type", fmt.Sprintf("unknown trigger type %q", trigger.Type))
	}

	if rollback.WindowHours < 0 {
		return kerrors.InvalidPolicyConfig("rollback.window_hours", fmt.Sprintf("must be >= 0, got %d", rollback.WindowHours))
	}
	if retainOldKeysDays < 0 {
		return kerrors.InvalidPolicyConfig("retain_old_keys_days", fmt.Sprintf("must be >= 0, got %d", retainOldKeysDays))
	}
	return nil
}

// computeNext derives next_rotation_at for a time-based trigger from the
// anchor instant (last rotation, or creation time if never rotated).
func computeNext(trigger Trigger, anchor time.Time) (*time.Time, error) {
	if trigger.Type != TriggerTimeBased {
		return nil, nil
	}
	tb := trigger.TimeBased
	next, err := schedule.NextRotation(anchor, tb.IntervalDays, tb.TimeOfDay, tb.Timezone)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// MemoryStore is an in-memory Store keyed by tenant. It backs single-process
// deployments and every test in the repository.
type MemoryStore struct {
	clock schedule.Clock

	mu       sync.RWMutex
	byTenant map[string]map[string]*Policy
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore(clock schedule.Clock) *MemoryStore {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &MemoryStore{
		clock:    clock,
		byTenant: make(map[string]map[string]*Policy),
	}
}

// Create validates the draft, computes the initial schedule, and stores the
// policy. No partial write occurs on validation failure.
func (s *MemoryStore) Create(ctx context.Context, draft Draft) (*Policy, error) {
	if draft.TenantID == "" {
		return nil, kerrors.InvalidPolicyConfig("tenant_id", "must not be empty")
	}
	if draft.Name == "" {
		return nil, kerrors.InvalidPolicyConfig("name", "must not be empty")
	}
	if err := Validate(draft.Trigger, draft.Rollback, draft.RetainOldKeysDays); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := &Policy{
		ID:                uuid.NewString(),
		TenantID:          draft.TenantID,
		Name:              draft.Name,
		Description:       draft.Description,
		KeyType:           draft.KeyType,
		KMSProvider:       draft.KMSProvider,
		Trigger:           draft.Trigger,
		Status:            StatusActive,
		Rollback:          draft.Rollback,
		RetainOldKeysDays: draft.RetainOldKeysDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Never rotated: the schedule anchors on creation time so the policy is
	// schedulable without waiting for a tick.
	next, err := computeNext(p.Trigger, now)
	if err != nil {
		return nil, kerrors.InvalidPolicyConfig("trigger.time_based", err.Error())
	}
	p.NextRotationAt = next

	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := s.byTenant[p.TenantID]
	if tenant == nil {
		tenant = make(map[string]*Policy)
		s.byTenant[p.TenantID] = tenant
	}
	tenant[p.ID] = p
	return p.clone(), nil
}

// Update applies the patch after validating the resulting configuration.
// A trigger change on a time-based policy recomputes next_rotation_at
// immediately.
func (s *MemoryStore) Update(ctx context.Context, tenantID, id string, patch Patch) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.locked(tenantID, id)
	if err != nil {
		return nil, err
	}

	// Validate against the would-be state before touching the stored policy.
	trigger := p.Trigger
	if patch.Trigger != nil {
		trigger = *patch.Trigger
	}
	rollback := p.Rollback
	if patch.Rollback != nil {
		rollback = *patch.Rollback
	}
	retain := p.RetainOldKeysDays
	if patch.RetainOldKeysDays != nil {
		retain = *patch.RetainOldKeysDays
	}
	if err := Validate(trigger, rollback, retain); err != nil {
		return nil, err
	}

	triggerChanged := patch.Trigger != nil && !sameTimeBased(p.Trigger, trigger)

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	p.Trigger = trigger
	p.Rollback = rollback
	p.RetainOldKeysDays = retain
	p.UpdatedAt = s.clock.Now()

	if triggerChanged || (patch.Trigger != nil && trigger.Type != TriggerTimeBased) {
		anchor := p.CreatedAt
		if p.LastRotationAt != nil {
			anchor = *p.LastRotationAt
		}
		next, err := computeNext(trigger, anchor)
		if err != nil {
			return nil, kerrors.InvalidPolicyConfig("trigger.time_based", err.Error())
		}
		p.NextRotationAt = next
	}

	return p.clone(), nil
}

func sameTimeBased(a, b Trigger) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type != TriggerTimeBased {
		return true
	}
	return a.TimeBased != nil && b.TimeBased != nil && *a.TimeBased == *b.TimeBased
}

// Suspend flips status only. next_rotation_at is retained so reactivation
// does not manufacture an overdue backlog.
func (s *MemoryStore) Suspend(ctx context.Context, tenantID, id string) (*Policy, error) {
	return s.setStatus(tenantID, id, StatusSuspended)
}

// Activate flips status only.
func (s *MemoryStore) Activate(ctx context.Context, tenantID, id string) (*Policy, error) {
	return s.setStatus(tenantID, id, StatusActive)
}

func (s *MemoryStore) setStatus(tenantID, id string, status Status) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.locked(tenantID, id)
	if err != nil {
		return nil, err
	}
	p.Status = status
	p.UpdatedAt = s.clock.Now()
	return p.clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.locked(tenantID, id)
	if err != nil {
		return nil, err
	}
	return p.clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string, filter Filter) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Policy
	for _, p := range s.byTenant[tenantID] {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.KeyType != "" && p.KeyType != filter.KeyType {
			continue
		}
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Tenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]string, 0, len(s.byTenant))
	for id := range s.byTenant {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, tenantID string, now time.Time) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Policy
	for _, p := range s.byTenant[tenantID] {
		if p.Due(now) {
			due = append(due, p.clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRotationAt.Before(*due[j].NextRotationAt) })
	return due, nil
}

func (s *MemoryStore) AdvanceSchedule(ctx context.Context, tenantID, id string, lastRotation, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.locked(tenantID, id)
	if err != nil {
		return err
	}
	lr := lastRotation
	n := next
	p.LastRotationAt = &lr
	p.NextRotationAt = &n
	p.UpdatedAt = s.clock.Now()
	return nil
}

// Snapshot returns a deep copy of every stored policy, ordered by tenant
// then creation time. Used by the file-backed state layer.
func (s *MemoryStore) Snapshot() []*Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Policy
	for _, tenant := range s.byTenant {
		for _, p := range tenant {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// LoadSnapshot replaces the store contents with the given policies.
func (s *MemoryStore) LoadSnapshot(policies []*Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byTenant = make(map[string]map[string]*Policy)
	for _, p := range policies {
		tenant := s.byTenant[p.TenantID]
		if tenant == nil {
			tenant = make(map[string]*Policy)
			s.byTenant[p.TenantID] = tenant
		}
		tenant[p.ID] = p.clone()
	}
}

// locked fetches a policy by tenant and id; callers hold s.mu.
func (s *MemoryStore) locked(tenantID, id string) (*Policy, error) {
	tenant := s.byTenant[tenantID]
	if tenant == nil {
		return nil, kerrors.NotFound("policy", id)
	}
	p, ok := tenant[id]
	if !ok {
		return nil, kerrors.NotFound("policy", id)
	}
	return p, nil
}
