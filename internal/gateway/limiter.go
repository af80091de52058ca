package gateway

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Dolores18/api-manager/internal/store/model"
)

// connLimiter caps in-flight upstream requests per account at the account's
// rate_limit. Accounts without a limit are never throttled.
type connLimiter struct {
	mu    sync.Mutex
	slots map[string]*semaphore.Weighted
}

func newConnLimiter() *connLimiter {
	return &connLimiter{slots: make(map[string]*semaphore.Weighted)}
}

// acquire claims an in-flight slot for the provider without blocking. When ok,
// release must be called exactly once after the upstream exchange finishes.
func (l *connLimiter) acquire(p model.Provider) (release func(), ok bool) {
	if !p.RateLimit.Valid || p.RateLimit.Int64 <= 0 {
		return func() {}, true
	}

	l.mu.Lock()
	sem, exists := l.slots[p.ID]
	if !exists {
		sem = semaphore.NewWeighted(p.RateLimit.Int64)
		l.slots[p.ID] = sem
	}
	l.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}
