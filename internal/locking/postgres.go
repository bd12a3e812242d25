package locking

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	_ "github.com/lib/pq"
)

// PostgresLocker implements Locker on top of Postgres session advisory
// locks, for deployments running more than one scheduler replica. Each
// acquired lock pins a dedicated connection; Postgres drops the lock
// automatically if that session dies, so a crashed replica cannot leave a
// policy locked forever.
type PostgresLocker struct {
	db *sql.DB
}

// NewPostgresLocker wraps an open database handle.
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// OpenPostgresLocker connects with the given lib/pq DSN.
func OpenPostgresLocker(dsn string) (*PostgresLocker, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock database: %w", err)
	}
	return &PostgresLocker{db: db}, nil
}

func (l *PostgresLocker) TryAcquire(ctx context.Context, scope string) (func(), bool, error) {
	key := lockKey(scope)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check out lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("advisory lock query failed: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Unlock on a fresh context: release must work even after the
		// acquiring context is cancelled.
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Close()
	}
	return release, true, nil
}

// lockKey folds a scope string into the signed 64-bit keyspace Postgres
// advisory locks use. FNV-1a keeps the mapping stable across replicas.
func lockKey(scope string) int64 {
	h := fnv.New64a()
	h.Write([]byte(scope))
	return int64(h.Sum64())
}
