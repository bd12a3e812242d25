// Package rollback reverts a succeeded rotation to its previous provider
// key identifier, within the policy's rollback window.
package rollback

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omniusstudio/pms-keyrotation/internal/audit"
	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
	"github.com/omniusstudio/pms-keyrotation/internal/kms"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
	"github.com/omniusstudio/pms-keyrotation/internal/metrics"
	"github.com/omniusstudio/pms-keyrotation/internal/policy"
	"github.com/omniusstudio/pms-keyrotation/internal/registry"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation/notifications"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
)

// ManagerOptions wires the rollback manager's collaborators. Locks must be
// the executor's lock set so rollback and rotation of the same key are
// mutually exclusive.
type ManagerOptions struct {
	Policies  policy.Store
	Registry  registry.Registry
	Trail     audit.Trail
	Providers map[string]kms.Provider
	Notifier  *notifications.Manager
	Metrics   *metrics.Recorder
	Logger    *logging.Logger
	Clock     schedule.Clock
	Locks     *rotation.KeyLocks
}

// Manager performs operator-requested rollbacks of succeeded rotations.
type Manager struct {
	policies  policy.Store
	registry  registry.Registry
	trail     audit.Trail
	providers map[string]kms.Provider
	notifier  *notifications.Manager
	metrics   *metrics.Recorder
	logger    *logging.Logger
	clock     schedule.Clock
	locks     *rotation.KeyLocks
}

// NewManager creates a rollback manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = schedule.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(false, true)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}
	if opts.Locks == nil {
		opts.Locks = rotation.NewKeyLocks()
	}
	return &Manager{
		policies:  opts.Policies,
		registry:  opts.Registry,
		trail:     opts.Trail,
		providers: opts.Providers,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		clock:     opts.Clock,
		locks:     opts.Locks,
	}
}

// Rollback reverts the rotation recorded under recordID. Precondition
// failures are terminal errors and leave every store untouched.
func (m *Manager) Rollback(ctx context.Context, tenantID, recordID string) (*audit.Record, error) {
	rec, err := m.trail.Get(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Kind != audit.KindRotation {
		return nil, kerrors.NotFound("rotation record", recordID)
	}
	if rec.Status != audit.StatusSucceeded {
		m.metrics.RecordRollback(tenantID, "rejected")
		return nil, kerrors.Conflict("rotation record", recordID, "only succeeded rotations can be rolled back")
	}

	pol, err := m.policies.Get(ctx, tenantID, rec.PolicyID)
	if err != nil {
		return nil, err
	}
	if !pol.Rollback.Enabled {
		m.metrics.RecordRollback(tenantID, "rejected")
		return nil, kerrors.ErrRollbackDisabled
	}

	now := m.clock.Now()
	if rec.CompletedAt == nil || now.Sub(*rec.CompletedAt) > time.Duration(pol.Rollback.WindowHours)*time.Hour {
		m.metrics.RecordRollback(tenantID, "rejected")
		return nil, kerrors.ErrRollbackWindowExpired
	}

	unlock := m.locks.Lock(tenantID, rec.KeyID)
	defer unlock()

	// Restore validates purge eligibility before mutating, so a purged
	// identifier fails here with no state changed.
	if _, err := m.registry.Restore(ctx, tenantID, rec.KeyID, rec.PreviousKMSKeyID); err != nil {
		m.metrics.RecordRollback(tenantID, "rejected")
		return nil, err
	}

	if provider, ok := m.providers[pol.KMSProvider]; ok {
		if err := provider.CancelDeletion(ctx, rec.PreviousKMSKeyID); err != nil {
			m.logger.Warn("could not cancel pending deletion of %s: %v",
				logging.KeyID(rec.PreviousKMSKeyID), err)
		}
	}

	done, err := m.trail.MarkRolledBack(ctx, tenantID, rec.ID, now)
	if err != nil {
		return nil, err
	}

	// History is additive: the revert itself is logged as a fresh entry
	// carrying the original cycle's correlation id.
	entry := &audit.Record{
		ID:               uuid.NewString(),
		CorrelationID:    rec.CorrelationID,
		Kind:             audit.KindRollback,
		KeyID:            rec.KeyID,
		PolicyID:         rec.PolicyID,
		TenantID:         tenantID,
		PreviousKMSKeyID: rec.NewKMSKeyID,
		NewKMSKeyID:      rec.PreviousKMSKeyID,
		Status:           audit.StatusSucceeded,
		StartedAt:        now,
		CompletedAt:      &now,
	}
	if err := m.trail.Append(ctx, entry); err != nil {
		return nil, err
	}

	m.metrics.RecordRollback(tenantID, "performed")
	if m.notifier != nil {
		m.notifier.Send(notifications.Event{
			Type:             notifications.EventTypeRollbackPerformed,
			TenantID:         tenantID,
			PolicyID:         rec.PolicyID,
			KeyID:            rec.KeyID,
			CorrelationID:    rec.CorrelationID,
			PreviousKMSKeyID: rec.NewKMSKeyID,
			NewKMSKeyID:      rec.PreviousKMSKeyID,
			Timestamp:        now,
		})
	}
	m.logger.Warn("rolled back key %s to %s (record %s)",
		rec.KeyID, logging.KeyID(rec.PreviousKMSKeyID), rec.ID)
	return done, nil
}
