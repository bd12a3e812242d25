// Package registry owns encryption-key records: which provider-side
// identifier is current for each key, and which policy governs it.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
)

// Status is the lifecycle state of a key record.
type Status string

const (
	// StatusActive means the record's kms_key_id is the current identifier.
	StatusActive Status = "active"

	// StatusRetired means the identifier was replaced by a rotation. Retired
	// records stay read-accessible until their purge-eligible date.
	StatusRetired Status = "retired"
)

// Key is a tenant-scoped encryption-key record. The provider holds the
// actual key material; this record tracks which provider identifier is
// current.
type Key struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	KeyName     string `json:"key_name"`
	KeyType     string `json:"key_type"`
	KMSProvider string `json:"kms_provider"`

	KMSKeyID  string `json:"kms_key_id"`
	KMSRegion string `json:"kms_region"`

	// RotationPolicyID is nil for unbound keys, which are never auto-rotated.
	RotationPolicyID *string `json:"rotation_policy_id,omitempty"`

	Status Status `json:"status"`

	// PurgeEligibleAt is set when the record retires; the previous identifier
	// may not be restored past this instant.
	PurgeEligibleAt *time.Time `json:"purge_eligible_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Version increments on every mutation; MarkRotated and Restore use it
	// for optimistic conflict detection.
	Version int64 `json:"version"`
}

func (k *Key) clone() *Key {
	cp := *k
	if k.RotationPolicyID != nil {
		id := *k.RotationPolicyID
		cp.RotationPolicyID = &id
	}
	if k.PurgeEligibleAt != nil {
		t := *k.PurgeEligibleAt
		cp.PurgeEligibleAt = &t
	}
	return &cp
}

// Draft carries the caller-supplied fields for Register.
type Draft struct {
	TenantID    string
	KeyName     string
	KeyType     string
	KMSProvider string
	KMSKeyID    string
	KMSRegion   string
}

// Registry is the tenant-scoped persistence contract for key records.
//
// MarkRotated and Restore are the only mutators of kms_key_id and status,
// and each applies as a single atomic update: no reader ever observes a key
// with zero or two active identifiers.
type Registry interface {
	Register(ctx context.Context, draft Draft) (*Key, error)
	BindPolicy(ctx context.Context, tenantID, keyID string, policyID *string) (*Key, error)
	Get(ctx context.Context, tenantID, keyID string) (*Key, error)

	// ListForPolicy returns the active keys bound to a policy within one
	// tenant. Retired records are never handed to the executor.
	ListForPolicy(ctx context.Context, tenantID, policyID string) ([]*Key, error)

	// MarkRotated swaps the current identifier for newKMSKeyID, retiring the
	// old identifier with purge-eligible date now+retainDays. expectVersion
	// is the version the caller read; a mismatch returns RegistryConflict.
	MarkRotated(ctx context.Context, tenantID, keyID, newKMSKeyID string, expectVersion int64, retainDays int) (*Key, error)

	// Restore reverts the current identifier to kmsKeyID. Used only by the
	// rollback manager.
	Restore(ctx context.Context, tenantID, keyID, kmsKeyID string) (*Key, error)

	// ListRetired returns the read-only retired identifier records for a
	// key, newest first. Records persist until their purge-eligible date.
	ListRetired(ctx context.Context, tenantID, keyID string) ([]*Key, error)
}

// MemoryRegistry is the in-memory Registry used by single-process
// deployments and tests.
type MemoryRegistry struct {
	clock schedule.Clock

	mu       sync.RWMutex
	byTenant map[string]map[string]*Key
	// retired holds read-only snapshots of replaced identifiers per key, so
	// Restore can verify the target identifier is within its retention
	// window and operators can inspect what a rollback would revert to.
	retired map[string][]*Key
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(clock schedule.Clock) *MemoryRegistry {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &MemoryRegistry{
		clock:    clock,
		byTenant: make(map[string]map[string]*Key),
		retired:  make(map[string][]*Key),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, draft Draft) (*Key, error) {
	if draft.TenantID == "" {
		return nil, kerrors.InvalidPolicyConfig("tenant_id", "must not be empty")
	}
	if draft.KMSKeyID == "" {
		return nil, kerrors.InvalidPolicyConfig("kms_key_id", "must not be empty")
	}

	k := &Key{
		ID:          uuid.NewString(),
		TenantID:    draft.TenantID,
		KeyName:     draft.KeyName,
		KeyType:     draft.KeyType,
		KMSProvider: draft.KMSProvider,
		KMSKeyID:    draft.KMSKeyID,
		KMSRegion:   draft.KMSRegion,
		Status:      StatusActive,
		CreatedAt:   r.clock.Now(),
		Version:     1,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tenant := r.byTenant[k.TenantID]
	if tenant == nil {
		tenant = make(map[string]*Key)
		r.byTenant[k.TenantID] = tenant
	}
	tenant[k.ID] = k
	return k.clone(), nil
}

func (r *MemoryRegistry) BindPolicy(ctx context.Context, tenantID, keyID string, policyID *string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, err := r.locked(tenantID, keyID)
	if err != nil {
		return nil, err
	}
	if policyID != nil {
		id := *policyID
		k.RotationPolicyID = &id
	} else {
		k.RotationPolicyID = nil
	}
	k.Version++
	return k.clone(), nil
}

func (r *MemoryRegistry) Get(ctx context.Context, tenantID, keyID string) (*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, err := r.locked(tenantID, keyID)
	if err != nil {
		return nil, err
	}
	return k.clone(), nil
}

func (r *MemoryRegistry) ListForPolicy(ctx context.Context, tenantID, policyID string) ([]*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Key
	for _, k := range r.byTenant[tenantID] {
		if k.Status != StatusActive {
			continue
		}
		if k.RotationPolicyID == nil || *k.RotationPolicyID != policyID {
			continue
		}
		out = append(out, k.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRegistry) MarkRotated(ctx context.Context, tenantID, keyID, newKMSKeyID string, expectVersion int64, retainDays int) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, err := r.locked(tenantID, keyID)
	if err != nil {
		return nil, err
	}
	if k.Version != expectVersion {
		return nil, kerrors.RegistryConflict(keyID)
	}

	now := r.clock.Now()
	purgeAt := now.Add(time.Duration(retainDays) * 24 * time.Hour)
	snapshot := k.clone()
	snapshot.Status = StatusRetired
	snapshot.PurgeEligibleAt = &purgeAt
	r.retired[keyID] = append(r.retired[keyID], snapshot)

	// Single atomic swap under the lock: old identifier out, new one in.
	k.KMSKeyID = newKMSKeyID
	k.Version++
	return k.clone(), nil
}

func (r *MemoryRegistry) Restore(ctx context.Context, tenantID, keyID, kmsKeyID string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, err := r.locked(tenantID, keyID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	idx := -1
	for i, old := range r.retired[keyID] {
		if old.KMSKeyID == kmsKeyID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, kerrors.ErrKeyAlreadyPurged
	}
	if now.After(*r.retired[keyID][idx].PurgeEligibleAt) {
		return nil, kerrors.ErrKeyAlreadyPurged
	}

	r.retired[keyID] = append(r.retired[keyID][:idx], r.retired[keyID][idx+1:]...)
	k.KMSKeyID = kmsKeyID
	k.Version++
	return k.clone(), nil
}

func (r *MemoryRegistry) ListRetired(ctx context.Context, tenantID, keyID string) ([]*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.locked(tenantID, keyID); err != nil {
		return nil, err
	}

	olds := r.retired[keyID]
	out := make([]*Key, 0, len(olds))
	for i := len(olds) - 1; i >= 0; i-- {
		out = append(out, olds[i].clone())
	}
	return out, nil
}

// Snapshot returns deep copies of every key record and the retired
// identifier snapshots keyed by key id. Used by the file-backed state layer.
func (r *MemoryRegistry) Snapshot() ([]*Key, map[string][]*Key) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []*Key
	for _, tenant := range r.byTenant {
		for _, k := range tenant {
			keys = append(keys, k.clone())
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TenantID != keys[j].TenantID {
			return keys[i].TenantID < keys[j].TenantID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})

	retired := make(map[string][]*Key, len(r.retired))
	for keyID, olds := range r.retired {
		cp := make([]*Key, 0, len(olds))
		for _, old := range olds {
			cp = append(cp, old.clone())
		}
		retired[keyID] = cp
	}
	return keys, retired
}

// LoadSnapshot replaces the registry contents with the given records.
func (r *MemoryRegistry) LoadSnapshot(keys []*Key, retired map[string][]*Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byTenant = make(map[string]map[string]*Key)
	for _, k := range keys {
		tenant := r.byTenant[k.TenantID]
		if tenant == nil {
			tenant = make(map[string]*Key)
			r.byTenant[k.TenantID] = tenant
		}
		tenant[k.ID] = k.clone()
	}

	r.retired = make(map[string][]*Key, len(retired))
	for keyID, olds := range retired {
		cp := make([]*Key, 0, len(olds))
		for _, old := range olds {
			cp = append(cp, old.clone())
		}
		r.retired[keyID] = cp
	}
}

func (r *MemoryRegistry) locked(tenantID, keyID string) (*Key, error) {
	tenant := r.byTenant[tenantID]
	if tenant == nil {
		return nil, kerrors.NotFound("key", keyID)
	}
	k, ok := tenant[keyID]
	if !ok {
		return nil, kerrors.NotFound("key", keyID)
	}
	return k, nil
}
