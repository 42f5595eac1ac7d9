// Package rate provides fixed-window request limiting for the webhook
// endpoint, with in-process and Redis backends.
package rate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Result of one Allow check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MemoryLimiter is a fixed-window limiter over an in-process map.
type MemoryLimiter struct {
	Max    int64
	Window time.Duration

	mu   sync.Mutex
	hits map[string]int64
	now  func() time.Time
}

// NewMemoryLimiter creates an in-process limiter. now may be nil.
func NewMemoryLimiter(max int, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		Max:    int64(max),
		Window: window,
		hits:   make(map[string]int64),
		now:    now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.Window)
	mapKey := fmt.Sprintf("%s:%d", key, winStart.Unix())

	l.mu.Lock()
	defer l.mu.Unlock()

	l.hits[mapKey]++
	hits := l.hits[mapKey]

	// drop stale windows opportunistically
	for k := range l.hits {
		if !strings.HasSuffix(k, fmt.Sprintf(":%d", winStart.Unix())) {
			delete(l.hits, k)
		}
	}

	if hits > l.Max {
		return Result{
			Allowed:    false,
			RetryAfter: winStart.Add(l.Window).Sub(now),
		}, nil
	}
	return Result{Allowed: true, Remaining: l.Max - hits}, nil
}

// RedisLimiter is a fixed-window limiter (INCR + EXPIRE) shared across
// server instances.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix, Max: int64(max), Window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	hits, err := l.Client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, err
	}
	if hits == 1 {
		_ = l.Client.Expire(ctx, redisKey, l.Window).Err()
	}

	if hits > l.Max {
		return Result{
			Allowed:    false,
			RetryAfter: winStart.Add(l.Window).Sub(now),
		}, nil
	}
	return Result{Allowed: true, Remaining: l.Max - hits}, nil
}
