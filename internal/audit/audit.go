// Package audit holds the append-only trail of rotation attempts and
// outcomes. History is never destroyed: the only permitted transitions are
// Pending to a terminal state (executor) and Succeeded to RolledBack
// (rollback manager), and a rollback is additionally logged as a fresh
// entry referencing the original correlation id.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
)

// Status is the lifecycle state of a rotation record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// IsTerminal reports whether the record has reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRolledBack
}

// Kind distinguishes rotation-cycle records from rollback entries.
type Kind string

const (
	KindRotation Kind = "rotation"
	KindRollback Kind = "rollback"
)

// Record is one audit entry. For KindRotation it tracks a single rotation
// cycle of one key under one policy; for KindRollback it documents the
// revert and carries the original cycle's correlation id.
type Record struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id"`
	Kind          Kind   `json:"kind"`

	KeyID    string `json:"key_id"`
	PolicyID string `json:"policy_id"`
	TenantID string `json:"tenant_id"`

	PreviousKMSKeyID string `json:"previous_kms_key_id"`

	// NewKMSKeyID is staged as soon as the provider call succeeds, while the
	// record is still pending, so a registry-update retry can reuse it
	// instead of minting another provider key.
	NewKMSKeyID string `json:"new_kms_key_id,omitempty"`

	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *Record) clone() *Record {
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Filter narrows List results within a tenant.
type Filter struct {
	KeyID    string
	PolicyID string
	Status   Status
	Kind     Kind
}

// Trail is the tenant-scoped contract for the audit log.
type Trail interface {
	// Append stores a new record. Append never overwrites.
	Append(ctx context.Context, rec *Record) error

	// FindByCorrelation returns the rotation record for a correlation id,
	// or nil if no cycle with that id has been recorded.
	FindByCorrelation(ctx context.Context, tenantID, correlationID string) (*Record, error)

	Get(ctx context.Context, tenantID, id string) (*Record, error)

	// List returns records for one tenant, newest first, capped at limit
	// (0 means no cap).
	List(ctx context.Context, tenantID string, filter Filter, limit int) ([]*Record, error)

	// StageNewKey persists the freshly generated provider identifier on a
	// pending record.
	StageNewKey(ctx context.Context, tenantID, id, newKMSKeyID string) error

	// MarkSucceeded / MarkFailed transition a pending record to terminal.
	MarkSucceeded(ctx context.Context, tenantID, id, newKMSKeyID string, completedAt time.Time) (*Record, error)
	MarkFailed(ctx context.Context, tenantID, id, errMsg string, completedAt time.Time) (*Record, error)

	// MarkRolledBack transitions a succeeded record. Only the rollback
	// manager calls this.
	MarkRolledBack(ctx context.Context, tenantID, id string, completedAt time.Time) (*Record, error)

	// SweepStale marks pending records started before cutoff as failed so a
	// crash mid-rotation cannot strand them. Returns the swept records.
	SweepStale(ctx context.Context, tenantID string, cutoff time.Time) ([]*Record, error)
}

// MemoryTrail is the in-memory Trail used by single-process deployments
// and tests.
type MemoryTrail struct {
	mu       sync.RWMutex
	byTenant map[string][]*Record
	byID     map[string]*Record
}

// NewMemoryTrail creates an empty in-memory audit trail.
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{
		byTenant: make(map[string][]*Record),
		byID:     make(map[string]*Record),
	}
}

func (t *MemoryTrail) Append(ctx context.Context, rec *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[rec.ID]; exists {
		return kerrors.Conflict("rotation record", rec.ID, "already recorded")
	}
	cp := rec.clone()
	t.byTenant[cp.TenantID] = append(t.byTenant[cp.TenantID], cp)
	t.byID[cp.ID] = cp
	return nil
}

func (t *MemoryTrail) FindByCorrelation(ctx context.Context, tenantID, correlationID string) (*Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rec := range t.byTenant[tenantID] {
		if rec.Kind == KindRotation && rec.CorrelationID == correlationID {
			return rec.clone(), nil
		}
	}
	return nil, nil
}

func (t *MemoryTrail) Get(ctx context.Context, tenantID, id string) (*Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, err := t.locked(tenantID, id)
	if err != nil {
		return nil, err
	}
	return rec.clone(), nil
}

func (t *MemoryTrail) List(ctx context.Context, tenantID string, filter Filter, limit int) ([]*Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Record
	for _, rec := range t.byTenant[tenantID] {
		if filter.KeyID != "" && rec.KeyID != filter.KeyID {
			continue
		}
		if filter.PolicyID != "" && rec.PolicyID != filter.PolicyID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *MemoryTrail) StageNewKey(ctx context.Context, tenantID, id, newKMSKeyID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.locked(tenantID, id)
	if err != nil {
		return err
	}
	rec.NewKMSKeyID = newKMSKeyID
	return nil
}

func (t *MemoryTrail) MarkSucceeded(ctx context.Context, tenantID, id, newKMSKeyID string, completedAt time.Time) (*Record, error) {
	return t.transition(tenantID, id, StatusPending, func(rec *Record) {
		rec.Status = StatusSucceeded
		rec.NewKMSKeyID = newKMSKeyID
		rec.CompletedAt = &completedAt
	})
}

func (t *MemoryTrail) MarkFailed(ctx context.Context, tenantID, id, errMsg string, completedAt time.Time) (*Record, error) {
	return t.transition(tenantID, id, StatusPending, func(rec *Record) {
		rec.Status = StatusFailed
		rec.ErrorMessage = errMsg
		rec.CompletedAt = &completedAt
	})
}

func (t *MemoryTrail) MarkRolledBack(ctx context.Context, tenantID, id string, completedAt time.Time) (*Record, error) {
	return t.transition(tenantID, id, StatusSucceeded, func(rec *Record) {
		rec.Status = StatusRolledBack
		rec.CompletedAt = &completedAt
	})
}

func (t *MemoryTrail) SweepStale(ctx context.Context, tenantID string, cutoff time.Time) ([]*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var swept []*Record
	for _, rec := range t.byTenant[tenantID] {
		if rec.Status != StatusPending || !rec.StartedAt.Before(cutoff) {
			continue
		}
		done := cutoff
		rec.Status = StatusFailed
		rec.ErrorMessage = "rotation did not reach a terminal state (crash-recovery sweep)"
		rec.CompletedAt = &done
		swept = append(swept, rec.clone())
	}
	return swept, nil
}

// Snapshot returns a deep copy of every record in append order. Used by the
// file-backed state layer.
func (t *MemoryTrail) Snapshot() []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tenants := make([]string, 0, len(t.byTenant))
	for id := range t.byTenant {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)

	var out []*Record
	for _, tenantID := range tenants {
		for _, rec := range t.byTenant[tenantID] {
			out = append(out, rec.clone())
		}
	}
	return out
}

// LoadSnapshot replaces the trail contents with the given records,
// preserving their order within each tenant.
func (t *MemoryTrail) LoadSnapshot(records []*Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byTenant = make(map[string][]*Record)
	t.byID = make(map[string]*Record)
	for _, rec := range records {
		cp := rec.clone()
		t.byTenant[cp.TenantID] = append(t.byTenant[cp.TenantID], cp)
		t.byID[cp.ID] = cp
	}
}

func (t *MemoryTrail) transition(tenantID, id string, from Status, apply func(*Record)) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.locked(tenantID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != from {
		return nil, kerrors.Conflict("rotation record", id, fmt.Sprintf("expected status %s, found %s", from, rec.Status))
	}
	apply(rec)
	return rec.clone(), nil
}

func (t *MemoryTrail) locked(tenantID, id string) (*Record, error) {
	rec, ok := t.byID[id]
	if !ok || rec.TenantID != tenantID {
		return nil, kerrors.NotFound("rotation record", id)
	}
	return rec, nil
}
