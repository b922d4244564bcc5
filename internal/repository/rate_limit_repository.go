package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "fintrack:ratelimit:"

// RedisRateLimitRepository counts hits in fixed Redis windows shared by all replicas.
type RedisRateLimitRepository struct {
	client redis.Cmdable
}

// NewRedisRateLimitRepository constructs a Redis backed counter.
func NewRedisRateLimitRepository(client redis.Cmdable) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client}
}

// Hit records one request for key and reports whether it is within limit.
func (r *RedisRateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	redisKey := rateLimitKeyPrefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr %s: %w", redisKey, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis expire %s: %w", redisKey, err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := r.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return false, ttl, nil
}

// MemoryRateLimitRepository is a per-process sliding window limiter.
type MemoryRateLimitRepository struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	now   func() time.Time
	calls int
}

// NewMemoryRateLimitRepository constructs an in-memory limiter.
func NewMemoryRateLimitRepository(now func() time.Time) *MemoryRateLimitRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRateLimitRepository{hits: make(map[string][]time.Time), now: now}
}

// Hit records one request for key and reports whether it is within limit.
func (r *MemoryRateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	now := r.now()
	cutoff := now.Add(-window)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.calls%1024 == 0 {
		r.sweepLocked(cutoff)
	}

	recent := prune(r.hits[key], cutoff)
	if len(recent) >= limit {
		r.hits[key] = recent
		retryAfter := recent[0].Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter, nil
	}
	r.hits[key] = append(recent, now)
	return true, 0, nil
}

func (r *MemoryRateLimitRepository) sweepLocked(cutoff time.Time) {
	for key, hits := range r.hits {
		if recent := prune(hits, cutoff); len(recent) == 0 {
			delete(r.hits, key)
		} else {
			r.hits[key] = recent
		}
	}
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
