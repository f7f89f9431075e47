// Package ratelimit implements fixed-window request limiting backed by
// Redis. Counters live in Redis so limits hold across server restarts;
// when Redis is down or not configured the limiter fails open.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rules holds the per-operation limits, all per minute. Zero disables
// the corresponding check.
type Rules struct {
	LoginPerMinute    int
	RegisterPerMinute int
	MessagesPerMinute int
}

// Limiter counts requests per key in fixed one-window buckets. A nil
// Limiter allows everything.
type Limiter struct {
	client *redis.Client
	log    *zap.Logger
}

func New(client *redis.Client, log *zap.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// Allow consumes one slot from key's current window and reports whether
// the request is within limit. Redis errors allow the request.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.client == nil || limit <= 0 {
		return true
	}

	bucket := bucketKey(key, time.Now(), window)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
		return true
	}

	count := incr.Val()
	if count > int64(limit) {
		l.log.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit))
		return false
	}
	return true
}

func bucketKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, now.UnixMilli()/window.Milliseconds())
}
