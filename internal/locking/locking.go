// Package locking provides the per-scope try-locks the scheduler takes
// around each policy's dispatch, so overlapping ticks (or multiple
// scheduler replicas sharing a database) never rotate the same policy
// twice.
package locking

import (
	"context"
	"sync"
)

// Locker hands out non-blocking advisory locks keyed by an opaque scope
// string (typically "tenant/policy").
type Locker interface {
	// TryAcquire attempts the lock without blocking. When acquired is true
	// the caller must invoke release exactly once.
	TryAcquire(ctx context.Context, scope string) (release func(), acquired bool, err error)
}

// MemoryLocker is the single-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, scope string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[scope] {
		return nil, false, nil
	}
	l.held[scope] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, scope)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}
