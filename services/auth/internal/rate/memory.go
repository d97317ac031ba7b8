package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the single-process Limiter used in dev and test.
type MemoryLimiter struct {
	mu          sync.Mutex
	policy      Policy
	entries     map[string]*entry
	lastCleanup time.Time
}

type entry struct {
	count int
	reset time.Time
}

func NewMemory(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:      policy,
		entries:     map[string]*entry{},
		lastCleanup: time.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, a Attempt, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.policy.Window {
		for k, v := range l.entries {
			if now.After(v.reset) {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	allowed := true
	var retryAfter time.Duration
	for _, c := range l.policy.counters(a) {
		e, ok := l.entries[c.key]
		if !ok || now.After(e.reset) {
			e = &entry{reset: now.Add(l.policy.Window)}
			l.entries[c.key] = e
		}
		e.count++
		if e.count <= c.limit {
			continue
		}
		allowed = false
		if left := e.reset.Sub(now); left > retryAfter {
			retryAfter = left
		}
	}
	return allowed, retryAfter, nil
}

func (l *MemoryLimiter) Forgive(_ context.Context, a Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key := accountKey(a.Email); key != "" {
		delete(l.entries, key)
	}
	return nil
}
