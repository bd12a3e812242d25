// Package rotation contains the executor that performs individual key
// rotations and the scheduler loop that decides when they happen.
package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omniusstudio/pms-keyrotation/internal/audit"
	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
	"github.com/omniusstudio/pms-keyrotation/internal/kms"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
	"github.com/omniusstudio/pms-keyrotation/internal/metrics"
	"github.com/omniusstudio/pms-keyrotation/internal/policy"
	"github.com/omniusstudio/pms-keyrotation/internal/registry"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation/notifications"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
)

// RetryConfig bounds the in-place retries around provider calls.
type RetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// ExecutorOptions wires the executor's collaborators.
type ExecutorOptions struct {
	Registry  registry.Registry
	Trail     audit.Trail
	Providers map[string]kms.Provider
	Notifier  *notifications.Manager
	Metrics   *metrics.Recorder
	Logger    *logging.Logger
	Clock     schedule.Clock
	Locks     *KeyLocks
	Retry     RetryConfig
}

// Executor rotates one key at a time: mint a new provider key, swap the
// registry record, schedule the old identifier for deletion, and leave a
// terminal audit record behind whatever happens.
type Executor struct {
	registry  registry.Registry
	trail     audit.Trail
	providers map[string]kms.Provider
	notifier  *notifications.Manager
	metrics   *metrics.Recorder
	logger    *logging.Logger
	clock     schedule.Clock
	locks     *KeyLocks
	retry     RetryConfig
}

// NewExecutor creates an executor. Nil Notifier and Metrics are allowed;
// Clock and Locks default to the system clock and a fresh lock set.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Clock == nil {
		opts.Clock = schedule.SystemClock{}
	}
	if opts.Locks == nil {
		opts.Locks = NewKeyLocks()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(false, true)
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.BackoffBase <= 0 {
		opts.Retry.BackoffBase = 200 * time.Millisecond
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}
	return &Executor{
		registry:  opts.Registry,
		trail:     opts.Trail,
		providers: opts.Providers,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		clock:     opts.Clock,
		locks:     opts.Locks,
		retry:     opts.Retry,
	}
}

// Locks exposes the per-key lock set so the rollback manager can share it.
func (e *Executor) Locks() *KeyLocks {
	return e.locks
}

// Rotate performs one rotation cycle for the given key under the given
// policy. The returned record is always terminal; the error mirrors the
// record's failure reason for callers that want to branch on it.
func (e *Executor) Rotate(ctx context.Context, pol *policy.Policy, key *registry.Key) (*audit.Record, error) {
	// A scheduled cycle is identified by the slot it was due at; a manual
	// rotation gets a fresh cycle per invocation.
	scheduledFor := e.clock.Now()
	if pol.NextRotationAt != nil {
		scheduledFor = *pol.NextRotationAt
	}
	corrID := CorrelationID(key.ID, pol.ID, scheduledFor)

	unlock := e.locks.Lock(key.TenantID, key.ID)
	defer unlock()

	existing, err := e.trail.FindByCorrelation(ctx, key.TenantID, corrID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.IsTerminal() {
		// Idempotent short-circuit: this cycle already ran.
		return existing, nil
	}

	rec := existing
	if rec == nil {
		rec = &audit.Record{
			ID:               uuid.NewString(),
			CorrelationID:    corrID,
			Kind:             audit.KindRotation,
			KeyID:            key.ID,
			PolicyID:         pol.ID,
			TenantID:         key.TenantID,
			PreviousKMSKeyID: key.KMSKeyID,
			Status:           audit.StatusPending,
			StartedAt:        e.clock.Now(),
		}
		if err := e.trail.Append(ctx, rec); err != nil {
			return nil, err
		}
	}

	e.metrics.RecordRotationStarted(key.TenantID, pol.KMSProvider)
	started := e.clock.Now()

	provider, ok := e.providers[pol.KMSProvider]
	if !ok {
		return e.fail(ctx, rec, pol, key, started,
			kerrors.PermanentKMS("lookup", fmt.Errorf("no provider registered for %q", pol.KMSProvider)))
	}

	newKMSKeyID := rec.NewKMSKeyID
	if newKMSKeyID == "" {
		newKMSKeyID, err = e.mintKey(ctx, provider, pol, key, corrID)
		if err != nil {
			return e.fail(ctx, rec, pol, key, started, err)
		}
		// Persist the minted identifier while still pending so a crashed
		// registry step resumes here instead of minting again.
		if err := e.trail.StageNewKey(ctx, key.TenantID, rec.ID, newKMSKeyID); err != nil {
			return nil, err
		}
	} else {
		e.logger.Info("resuming rotation of key %s with staged identifier %s",
			key.ID, logging.KeyID(newKMSKeyID))
	}

	if _, err := e.registry.MarkRotated(ctx, key.TenantID, key.ID, newKMSKeyID, key.Version, pol.RetainOldKeysDays); err != nil {
		return e.fail(ctx, rec, pol, key, started, err)
	}

	// The retired identifier stays recoverable until its purge date.
	// Deletion scheduling is best-effort: the registry swap already
	// happened and must not be undone by a tagging-tier failure.
	if pol.RetainOldKeysDays > 0 {
		if err := provider.ScheduleDeletion(ctx, key.KMSKeyID, int32(pol.RetainOldKeysDays)); err != nil {
			e.logger.Warn("could not schedule deletion of retired key %s: %v",
				logging.KeyID(key.KMSKeyID), err)
		}
	}

	done, err := e.trail.MarkSucceeded(ctx, key.TenantID, rec.ID, newKMSKeyID, e.clock.Now())
	if err != nil {
		return nil, err
	}

	elapsed := e.clock.Now().Sub(started)
	e.metrics.RecordRotationCompleted(key.TenantID, pol.KMSProvider, string(audit.StatusSucceeded), elapsed.Seconds())
	e.notify(notifications.Event{
		Type:             notifications.EventTypeRotationSucceeded,
		TenantID:         key.TenantID,
		PolicyID:         pol.ID,
		KeyID:            key.ID,
		CorrelationID:    corrID,
		PreviousKMSKeyID: done.PreviousKMSKeyID,
		NewKMSKeyID:      newKMSKeyID,
		Duration:         elapsed,
		Timestamp:        e.clock.Now(),
	})
	e.logger.Info("rotated key %s (policy %s): %s -> %s",
		key.ID, pol.ID, logging.KeyID(done.PreviousKMSKeyID), logging.KeyID(newKMSKeyID))
	return done, nil
}

// mintKey generates and tags the new provider key, retrying transient
// failures with bounded exponential backoff.
func (e *Executor) mintKey(ctx context.Context, provider kms.Provider, pol *policy.Policy, key *registry.Key, corrID string) (string, error) {
	var newID string
	err := e.withRetry(ctx, func() error {
		id, genErr := provider.GenerateKey(ctx, kms.GenerateRequest{
			KeyType:          key.KeyType,
			Region:           key.KMSRegion,
			IdempotencyToken: corrID,
		})
		if genErr != nil {
			return genErr
		}
		newID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	err = e.withRetry(ctx, func() error {
		return provider.TagKey(ctx, newID, map[string]string{
			"tenant_id": key.TenantID,
			"key_name":  key.KeyName,
			"policy_id": pol.ID,
		})
	})
	if err != nil {
		return "", err
	}

	// Verify the minted key is actually usable before the registry swap
	// commits to it.
	err = e.withRetry(ctx, func() error {
		info, descErr := provider.DescribeKey(ctx, newID)
		if descErr != nil {
			return descErr
		}
		if !info.Exists || !info.Enabled {
			return kerrors.PermanentKMS("DescribeKey",
				fmt.Errorf("minted key %s is not usable (exists=%t enabled=%t)", newID, info.Exists, info.Enabled))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// withRetry runs fn up to the configured attempt budget, backing off
// between transient failures. Permanent failures return immediately.
func (e *Executor) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := e.retry.BackoffBase
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !kerrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == e.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func (e *Executor) fail(ctx context.Context, rec *audit.Record, pol *policy.Policy, key *registry.Key, started time.Time, cause error) (*audit.Record, error) {
	done, markErr := e.trail.MarkFailed(ctx, key.TenantID, rec.ID, cause.Error(), e.clock.Now())
	if markErr != nil {
		return nil, markErr
	}

	elapsed := e.clock.Now().Sub(started)
	e.metrics.RecordRotationCompleted(key.TenantID, pol.KMSProvider, string(audit.StatusFailed), elapsed.Seconds())
	e.notify(notifications.Event{
		Type:          notifications.EventTypeRotationFailed,
		TenantID:      key.TenantID,
		PolicyID:      pol.ID,
		KeyID:         key.ID,
		CorrelationID: rec.CorrelationID,
		Error:         cause.Error(),
		Duration:      elapsed,
		Timestamp:     e.clock.Now(),
	})
	e.logger.Error("rotation of key %s (policy %s) failed: %v", key.ID, pol.ID, cause)
	return done, cause
}

func (e *Executor) notify(event notifications.Event) {
	if e.notifier != nil {
		e.notifier.Send(event)
	}
}
