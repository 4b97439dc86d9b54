package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter enforces an independent ceiling per key (worker id, client
// IP, ...). Both the in-memory and Redis-backed implementations satisfy
// this so httpapi middleware doesn't care which backend is active.
type KeyedLimiter interface {
	// Allow reports whether one more request for key is permitted right now.
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryKeyedLimiter keeps one token-bucket limiter per key in a map,
// evicting entries that haven't been touched in evictAfter so long-lived
// processes don't accumulate a limiter per worker forever.
type MemoryKeyedLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*entry
	perMinute  int
	evictAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryKeyedLimiter returns a limiter allowing perMinute requests per
// key, per instance (e.g. the §4.3 120 req/min worker ceiling on
// /jobs/next and the 30 req/min per-IP ceiling on /workers/register).
func NewMemoryKeyedLimiter(perMinute int) *MemoryKeyedLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &MemoryKeyedLimiter{
		limiters:   make(map[string]*entry),
		perMinute:  perMinute,
		evictAfter: 10 * time.Minute,
	}
}

func (l *MemoryKeyedLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.evictLocked(now)

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.perMinute)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

func (l *MemoryKeyedLimiter) evictLocked(now time.Time) {
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.evictAfter {
			delete(l.limiters, k)
		}
	}
}
