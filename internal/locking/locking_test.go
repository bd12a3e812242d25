package locking

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker := NewMemoryLocker()

	release, ok, err := locker.TryAcquire(ctx, "tenant-a/pol-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "tenant-a/pol-1")
	require.NoError(t, err)
	assert.False(t, ok, "held scope must not be re-acquirable")

	// A different scope is independent.
	other, ok, err := locker.TryAcquire(ctx, "tenant-a/pol-2")
	require.NoError(t, err)
	require.True(t, ok)
	other()

	release()
	release() // double release is harmless

	again, ok, err := locker.TryAcquire(ctx, "tenant-a/pol-1")
	require.NoError(t, err)
	require.True(t, ok)
	again()
}

func TestPostgresLocker_AcquireAndRelease(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := lockKey("tenant-a/pol-1")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))

	locker := NewPostgresLocker(db)
	release, ok, err := locker.TryAcquire(context.Background(), "tenant-a/pol-1")
	require.NoError(t, err)
	require.True(t, ok)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocker_Contention(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lockKey("tenant-a/pol-1")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	locker := NewPostgresLocker(db)
	release, ok, err := locker.TryAcquire(context.Background(), "tenant-a/pol-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockKey_StableAndDistinct(t *testing.T) {
	t.Parallel()

	assert.Equal(t, lockKey("tenant-a/pol-1"), lockKey("tenant-a/pol-1"))
	assert.NotEqual(t, lockKey("tenant-a/pol-1"), lockKey("tenant-a/pol-2"))
	assert.NotEqual(t, lockKey("tenant-a/pol-1"), lockKey("tenant-b/pol-1"))
}
