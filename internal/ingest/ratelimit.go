package ingest

import (
	"sync"
	"time"
)

// windowLimiter is a fixed-window per-key request counter. No pack
// example imports a rate-limiting library (golang.org/x/time/rate
// appears only as an unused transitive entry in a handful of other
// repos' go.mod manifests, never actually imported in their source),
// so this stays on the standard library: time.Time and sync.Mutex.
type windowLimiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

func newWindowLimiter(window time.Duration, max int) *windowLimiter {
	return &windowLimiter{window: window, max: max, buckets: map[string]*bucket{}}
}

// Allow reports whether key may proceed at time now, incrementing its
// bucket if so.
func (l *windowLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &bucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// RetryAfter returns how long the caller should wait before the named
// key's window resets, as of now.
func (l *windowLimiter) RetryAfter(key string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	remaining := l.window - now.Sub(b.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
