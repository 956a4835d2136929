package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter backed by a shared Redis instance,
// for deployments running more than one API process. It fails open: a Redis
// error allows the request and surfaces the error for logging.
type RedisLimiter struct {
	client    *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
}

// NewRedisLimiter constructs a limiter counting under keyPrefix:<id> keys.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, keyPrefix string) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		limit:     limit,
		window:    window,
		keyPrefix: keyPrefix,
	}
}

// Allow increments the identifier's window counter and reports whether the
// request is within the limit.
func (l *RedisLimiter) Allow(ctx context.Context, id string) (bool, time.Duration, error) {
	key := l.keyPrefix + ":" + id

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return true, 0, err
		}
	}
	if count > int64(l.limit) {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}
