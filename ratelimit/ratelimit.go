package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate-limit check.
// Check never fails; callers must branch on Allowed.
type Decision struct {
	// Allowed reports whether the action may proceed.
	Allowed bool

	// RetryAfter is how long until the window resets.
	// Zero when Allowed is true.
	RetryAfter time.Duration

	// Remaining is how many actions are left in the current window.
	Remaining int
}

// Limiter bounds action frequency per key.
// Implementations are process-local by default; the interface exists so a
// distributed counter can be swapped in without touching callers.
type Limiter interface {
	// Check records one action against key and reports whether it is
	// within limit actions per window. The first action in a window, or
	// any action after the window elapsed, resets the counter to 1 and
	// allows.
	Check(key string, limit int, window time.Duration) Decision

	// Allow applies a named policy to a key, namespacing the counter so
	// one policy cannot starve another's quota for the same actor.
	Allow(policy Policy, key string) Decision
}

// MemoryLimiter implements Limiter with in-process fixed-window counters.
// Counters are ephemeral: loss on restart fails open, which is acceptable
// for abuse control.
type MemoryLimiter struct {
	mu      sync.Mutex
	hits    map[string]*windowEntry
	nowFunc func() time.Time // for testing
}

// windowEntry is one counter: actions taken since resetAt was last set.
type windowEntry struct {
	count   int
	resetAt time.Time
}

// NewMemoryLimiter creates a new in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		hits:    make(map[string]*windowEntry),
		nowFunc: time.Now,
	}
}

// Check records one action against key.
func (m *MemoryLimiter) Check(key string, limit int, window time.Duration) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()

	entry, ok := m.hits[key]
	if !ok || now.After(entry.resetAt) {
		m.hits[key] = &windowEntry{count: 1, resetAt: now.Add(window)}
		m.reapLocked(now)
		return Decision{Allowed: true, Remaining: limit - 1}
	}

	entry.count++
	if entry.count > limit {
		return Decision{Allowed: false, RetryAfter: entry.resetAt.Sub(now)}
	}
	return Decision{Allowed: true, Remaining: limit - entry.count}
}

// Allow applies a named policy to a key.
func (m *MemoryLimiter) Allow(policy Policy, key string) Decision {
	return m.Check(policy.Name+":"+key, policy.Limit, policy.Window)
}

// reapLocked drops counters whose window elapsed. Called opportunistically
// on inserts so the map does not grow without bound.
func (m *MemoryLimiter) reapLocked(now time.Time) {
	if len(m.hits) < 4096 {
		return
	}
	for k, e := range m.hits {
		if now.After(e.resetAt) {
			delete(m.hits, k)
		}
	}
}

// Ensure MemoryLimiter implements Limiter.
var _ Limiter = (*MemoryLimiter)(nil)
