package ingest

import (
	"testing"
	"time"
)

func TestWindowLimiter_AllowsUpToMax(t *testing.T) {
	l := newWindowLimiter(time.Second, 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !l.Allow("a", now) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("a", now) {
		t.Fatal("4th request should be denied")
	}
}

func TestWindowLimiter_ResetsAfterWindow(t *testing.T) {
	l := newWindowLimiter(time.Second, 1)
	now := time.Now()
	if !l.Allow("a", now) {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("a", now.Add(500*time.Millisecond)) {
		t.Fatal("second request within window should be denied")
	}
	if !l.Allow("a", now.Add(1100*time.Millisecond)) {
		t.Fatal("request after window elapses should be allowed")
	}
}

func TestWindowLimiter_IndependentKeys(t *testing.T) {
	l := newWindowLimiter(time.Second, 1)
	now := time.Now()
	if !l.Allow("a", now) || !l.Allow("b", now) {
		t.Fatal("distinct keys should each get their own bucket")
	}
}

func TestWindowLimiter_RetryAfter(t *testing.T) {
	l := newWindowLimiter(time.Second, 1)
	now := time.Now()
	l.Allow("a", now)
	retry := l.RetryAfter("a", now.Add(200*time.Millisecond))
	if retry <= 0 || retry > time.Second {
		t.Fatalf("retry after = %v, want within (0, 1s]", retry)
	}
}
