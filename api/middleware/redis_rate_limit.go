package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments key and makes sure it expires after ttl.
type Counter interface {
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type redisCounter struct {
	client redis.Cmdable
}

func NewRedisCounter(client redis.Cmdable) Counter {
	return &redisCounter{client: client}
}

func (r *redisCounter) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// WindowLimiter is a fixed-window counter shared by every instance that
// talks to the same Redis.
type WindowLimiter struct {
	counter Counter
	prefix  string
	window  time.Duration
	quota   int64
	now     func() time.Time
}

func NewWindowLimiter(counter Counter, prefix string, window time.Duration, quota int) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		counter: counter,
		prefix:  prefix,
		window:  window,
		quota:   int64(quota),
		now:     time.Now,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.quota <= 0 {
		return true, nil
	}
	windowSec := int64(l.window / time.Second)
	if windowSec <= 0 {
		windowSec = 1
	}
	windowID := l.now().Unix() / windowSec
	count, err := l.counter.IncrementWithTTL(ctx, fmt.Sprintf("%s:%s:%d", l.prefix, key, windowID), l.window+time.Second)
	if err != nil {
		return false, err
	}
	return count <= l.quota, nil
}
