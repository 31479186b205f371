// Package ratelimit provides fixed-window request rate limiting for the
// HTTP endpoints, with an in-memory limiter for single-instance deployments
// and a Redis-backed one for shared state across replicas.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default windows and limits for the public endpoints.
const (
	DefaultWindow = 60 * time.Second

	WebhookLimit = 100
	AITestLimit  = 10
	HealthLimit  = 30

	// maxTrackedKeys bounds the in-memory limiter's map; when exceeded,
	// expired windows are swept.
	maxTrackedKeys = 10000
)

// Limiter decides whether a request identified by key may proceed within
// the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type windowEntry struct {
	count      int
	resetAfter time.Time
}

// InMemoryLimiter is a mutex-guarded fixed-window counter keyed by caller
// identity. Suitable for a single process; counters reset when it restarts.
type InMemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

// NewInMemoryLimiter creates an empty limiter.
func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Allow increments the counter for key and reports whether it is within
// limit for the current window.
func (l *InMemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAfter) {
		if len(l.entries) >= maxTrackedKeys {
			l.sweep(now)
		}
		l.entries[key] = &windowEntry{count: 1, resetAfter: now.Add(window)}
		return limit >= 1
	}

	entry.count++
	return entry.count <= limit
}

// sweep removes expired windows. Caller holds the lock.
func (l *InMemoryLimiter) sweep(now time.Time) {
	for key, entry := range l.entries {
		if now.After(entry.resetAfter) {
			delete(l.entries, key)
		}
	}
}

// RedisLimiter counts requests in Redis so limits hold across replicas.
// It fails open: if Redis is unreachable the request is allowed, since
// dropping webhook traffic is worse than briefly exceeding a limit.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter wraps an existing Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

// Allow increments the window counter for key via INCR, setting the TTL on
// first use.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		slog.Warn("RedisLimiter.Allow: INCR failed, allowing request", "key", key, "error", err)
		return true
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			slog.Warn("RedisLimiter.Allow: EXPIRE failed", "key", key, "error", err)
		}
	}
	return count <= int64(limit)
}
