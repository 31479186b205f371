package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryLimiterAllowsWithinLimit(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !l.Allow(ctx, "ip1", 5, time.Minute) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow(ctx, "ip1", 5, time.Minute) {
		t.Error("request past the limit should be denied")
	}
}

func TestInMemoryLimiterKeysIndependent(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "ip1", 3, time.Minute)
	}
	if l.Allow(ctx, "ip1", 3, time.Minute) {
		t.Error("ip1 should be exhausted")
	}
	if !l.Allow(ctx, "ip2", 3, time.Minute) {
		t.Error("ip2 should have its own counter")
	}
}

func TestInMemoryLimiterWindowResets(t *testing.T) {
	l := NewInMemoryLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l.Allow(ctx, "ip1", 2, time.Minute)
	}
	if l.Allow(ctx, "ip1", 2, time.Minute) {
		t.Fatal("should be exhausted before the window elapses")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow(ctx, "ip1", 2, time.Minute) {
		t.Error("counter should reset after the window elapses")
	}
}

func TestInMemoryLimiterSweepsExpired(t *testing.T) {
	l := NewInMemoryLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < maxTrackedKeys; i++ {
		l.Allow(ctx, fmt.Sprintf("ip%d", i), 1, time.Minute)
	}
	now = now.Add(2 * time.Minute)
	l.Allow(ctx, "fresh", 1, time.Minute)

	l.mu.Lock()
	size := len(l.entries)
	l.mu.Unlock()
	if size > 1 {
		t.Errorf("expired windows should be swept, %d entries remain", size)
	}
}

func TestInMemoryLimiterZeroLimitDeniesAll(t *testing.T) {
	l := NewInMemoryLimiter()
	if l.Allow(context.Background(), "ip1", 0, time.Minute) {
		t.Error("a zero limit should deny every request")
	}
}
