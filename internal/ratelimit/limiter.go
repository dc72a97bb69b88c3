// Package ratelimit provides keyed fixed-window counters used to throttle
// the OTP endpoints by client IP and by target email. The check-then-
// increment sequence is atomic per key under the mutex, but the limiter is
// an abuse-mitigation tool, not a hard quota.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

type window struct {
	count int
	reset time.Time
}

// Limiter counts requests per namespace:identifier key within a fixed
// window. Stale windows are pruned lazily on access.
type Limiter struct {
	mu      sync.Mutex
	byKey   map[string]*window
	length  time.Duration
	nowFunc func() time.Time
}

// New creates a Limiter with the given window length.
func New(length time.Duration) *Limiter {
	return &Limiter{
		byKey:   make(map[string]*window),
		length:  length,
		nowFunc: time.Now,
	}
}

// Allow records one request under namespace:identifier and reports whether
// it fits within limit for the current window. When denied, retryAfter is
// the time remaining until the window resets.
func (l *Limiter) Allow(namespace, identifier string, limit int) (ok bool, retryAfter time.Duration) {
	if limit <= 0 {
		return true, 0
	}
	key := fmt.Sprintf("%s:%s", namespace, identifier)
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.byKey[key]
	if !exists || now.After(w.reset) {
		l.byKey[key] = &window{count: 1, reset: now.Add(l.length)}
		l.pruneLocked(now)
		return true, 0
	}
	if w.count >= limit {
		return false, time.Until(w.reset)
	}
	w.count++
	return true, 0
}

// pruneLocked drops expired windows. Called with the lock held; bounded by
// map size, which stays small because entries expire every window.
func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.byKey) < 4096 {
		return
	}
	for k, w := range l.byKey {
		if now.After(w.reset) {
			delete(l.byKey, k)
		}
	}
}
