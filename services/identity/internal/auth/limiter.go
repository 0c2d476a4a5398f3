package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter counts verification attempts per key within a window.
type AttemptLimiter interface {
	// Attempt counts one attempt against key and reports whether it is still
	// within the limit. Counting and checking are a single atomic step; the
	// window starts at the first attempt.
	Attempt(ctx context.Context, key string, window time.Duration) (bool, error)
	// Reset forgets key.
	Reset(ctx context.Context, key string) error
}

const attemptKeyPrefix = "nuru:identity:attempts:"

// RedisLimiter keeps counters in Redis so every replica shares them.
type RedisLimiter struct {
	client *redis.Client
	max    int64
}

// NewRedisLimiter creates a Redis-backed limiter allowing max attempts per window.
func NewRedisLimiter(client *redis.Client, max int) *RedisLimiter {
	return &RedisLimiter{client: client, max: int64(max)}
}

// attemptScript increments the counter and starts its TTL only on the first
// attempt so retries do not extend the window.
var attemptScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func (l *RedisLimiter) Attempt(ctx context.Context, key string, window time.Duration) (bool, error) {
	n, err := attemptScript.Run(ctx, l.client, []string{attemptKeyPrefix + key}, windowMillis(window)).Int64()
	if err != nil {
		return false, fmt.Errorf("count attempt: %w", err)
	}
	return n <= l.max, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, attemptKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset attempt counter: %w", err)
	}
	return nil
}

// MemoryLimiter is a process-local AttemptLimiter for single-replica
// deployments and tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	now     func() time.Time
	entries map[string]*attemptEntry
}

type attemptEntry struct {
	count   int
	expires time.Time
}

// NewMemoryLimiter creates an in-process limiter allowing max attempts per window.
func NewMemoryLimiter(max int) *MemoryLimiter {
	return &MemoryLimiter{max: max, now: time.Now, entries: make(map[string]*attemptEntry)}
}

func (l *MemoryLimiter) Attempt(_ context.Context, key string, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.live(key)
	if e == nil {
		e = &attemptEntry{expires: l.now().Add(time.Duration(windowMillis(window)) * time.Millisecond)}
		l.entries[key] = e
	}
	e.count++
	return e.count <= l.max, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// live returns the unexpired entry for key, evicting it if stale. Callers
// hold l.mu.
func (l *MemoryLimiter) live(key string) *attemptEntry {
	e, ok := l.entries[key]
	if !ok {
		return nil
	}
	if !l.now().Before(e.expires) {
		delete(l.entries, key)
		return nil
	}
	return e
}

// windowMillis clamps window to at least one second.
func windowMillis(window time.Duration) int64 {
	if ms := window.Milliseconds(); ms >= 1000 {
		return ms
	}
	return 1000
}
