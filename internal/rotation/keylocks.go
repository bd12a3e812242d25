package rotation

import (
	"sync"
)

// KeyLocks serializes mutating work per encryption key. The executor holds
// a key's lock through the provider and registry steps, and the rollback
// manager acquires the same lock, so a rollback can never interleave with
// a fresh rotation of the same key.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyLocks creates an empty lock set.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for one tenant's key and returns the release.
func (k *KeyLocks) Lock(tenantID, keyID string) func() {
	k.mu.Lock()
	scope := tenantID + "/" + keyID
	l, ok := k.locks[scope]
	if !ok {
		l = &sync.Mutex{}
		k.locks[scope] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
