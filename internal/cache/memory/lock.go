package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// LockManager implements domain.LockManager for a single process. Locks
// still expire after their TTL so a job that never released its lock, for
// example after a panic swallowed by a recover, does not wedge the
// scheduler forever.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewLockManager creates an empty in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire takes the lock for key, holding it at most ttl. It returns
// domain.ErrLockHeld when the lock is taken and not yet expired.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if expiry, ok := lm.locks[key]; ok && now.Before(expiry) {
		return nil, domain.ErrLockHeld
	}

	expiry := now.Add(ttl)
	lm.locks[key] = expiry

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true

		// Only delete if this acquisition still owns the key. A later
		// holder may have taken over after our TTL lapsed.
		if current, ok := lm.locks[key]; ok && current.Equal(expiry) {
			delete(lm.locks, key)
		}
	}

	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
