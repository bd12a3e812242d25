package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
)

func pendingRecord(id, tenant string, started time.Time) *Record {
	return &Record{
		ID:               id,
		CorrelationID:    "corr-" + id,
		Kind:             KindRotation,
		KeyID:            "key-1",
		PolicyID:         "pol-1",
		TenantID:         tenant,
		PreviousKMSKeyID: "arn:aws:kms:us-east-1:111:key/old",
		Status:           StatusPending,
		StartedAt:        started,
	}
}

func TestMemoryTrail_AppendAndFindByCorrelation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewMemoryTrail()
	started := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)

	rec := pendingRecord("rec-1", "tenant-a", started)
	require.NoError(t, trail.Append(ctx, rec))

	found, err := trail.FindByCorrelation(ctx, "tenant-a", "corr-rec-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "rec-1", found.ID)
	assert.Equal(t, StatusPending, found.Status)

	// Mutating the returned copy must not touch the stored record.
	found.Status = StatusFailed
	again, err := trail.Get(ctx, "tenant-a", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	missing, err := trail.FindByCorrelation(ctx, "tenant-a", "corr-nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = trail.Append(ctx, pendingRecord("rec-1", "tenant-a", started))
	assert.True(t, kerrors.IsConflict(err), "duplicate append must conflict")
}

func TestMemoryTrail_Transitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewMemoryTrail()
	started := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)
	done := started.Add(3 * time.Second)

	require.NoError(t, trail.Append(ctx, pendingRecord("rec-ok", "tenant-a", started)))
	require.NoError(t, trail.Append(ctx, pendingRecord("rec-bad", "tenant-a", started)))

	ok, err := trail.MarkSucceeded(ctx, "tenant-a", "rec-ok", "arn:aws:kms:us-east-1:111:key/new", done)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, ok.Status)
	assert.Equal(t, "arn:aws:kms:us-east-1:111:key/new", ok.NewKMSKeyID)
	require.NotNil(t, ok.CompletedAt)
	assert.Equal(t, done, *ok.CompletedAt)

	bad, err := trail.MarkFailed(ctx, "tenant-a", "rec-bad", "GenerateKey: access denied", done)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, "GenerateKey: access denied", bad.ErrorMessage)

	// Terminal records do not move again.
	_, err = trail.MarkFailed(ctx, "tenant-a", "rec-ok", "too late", done)
	assert.True(t, kerrors.IsConflict(err))
	_, err = trail.MarkRolledBack(ctx, "tenant-a", "rec-bad", done)
	assert.True(t, kerrors.IsConflict(err))

	// Succeeded -> RolledBack is the one permitted post-terminal move.
	rb, err := trail.MarkRolledBack(ctx, "tenant-a", "rec-ok", done.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rb.Status)
}

func TestMemoryTrail_StageNewKeySurvivesUntilTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewMemoryTrail()
	started := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)

	require.NoError(t, trail.Append(ctx, pendingRecord("rec-1", "tenant-a", started)))
	require.NoError(t, trail.StageNewKey(ctx, "tenant-a", "rec-1", "arn:aws:kms:us-east-1:111:key/staged"))

	rec, err := trail.Get(ctx, "tenant-a", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "arn:aws:kms:us-east-1:111:key/staged", rec.NewKMSKeyID)
}

func TestMemoryTrail_ListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewMemoryTrail()
	base := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := pendingRecord(fmt.Sprintf("rec-%d", i), "tenant-a", base.Add(time.Duration(i)*time.Minute))
		if i%2 == 1 {
			rec.KeyID = "key-2"
		}
		require.NoError(t, trail.Append(ctx, rec))
	}

	all, err := trail.List(ctx, "tenant-a", Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "rec-4", all[0].ID, "newest first")

	key2, err := trail.List(ctx, "tenant-a", Filter{KeyID: "key-2"}, 0)
	require.NoError(t, err)
	assert.Len(t, key2, 2)

	capped, err := trail.List(ctx, "tenant-a", Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)

	other, err := trail.List(ctx, "tenant-b", Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryTrail_TenantIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewMemoryTrail()
	started := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)

	require.NoError(t, trail.Append(ctx, pendingRecord("rec-1", "tenant-a", started)))

	_, err := trail.Get(ctx, "tenant-b", "rec-1")
	assert.Error(t, err)
	_, err = trail.MarkSucceeded(ctx, "tenant-b", "rec-1", "new", started)
	assert.Error(t, err)

	found, err := trail.FindByCorrelation(ctx, "tenant-b", "corr-rec-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemoryTrail_SweepStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewMemoryTrail()
	base := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)

	require.NoError(t, trail.Append(ctx, pendingRecord("rec-old", "tenant-a", base.Add(-2*time.Hour))))
	require.NoError(t, trail.Append(ctx, pendingRecord("rec-fresh", "tenant-a", base.Add(-time.Minute))))
	done, err := trail.MarkSucceeded(ctx, "tenant-a", "rec-fresh", "new", base)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, done.Status)
	require.NoError(t, trail.Append(ctx, pendingRecord("rec-recent", "tenant-a", base.Add(-5*time.Minute))))

	swept, err := trail.SweepStale(ctx, "tenant-a", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "rec-old", swept[0].ID)
	assert.Equal(t, StatusFailed, swept[0].Status)
	assert.Contains(t, swept[0].ErrorMessage, "crash-recovery")

	recent, err := trail.Get(ctx, "tenant-a", "rec-recent")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, recent.Status)
}
