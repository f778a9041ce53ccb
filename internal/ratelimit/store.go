// Package ratelimit throttles sensitive operations per actor and operation with a fixed
// window counter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

// Counter stores window counts. Any httprate.LimitCounter fits; the counters built
// here ignore the previous window, so limits apply per fixed window.
type Counter = httprate.LimitCounter

// fixedWindow drops the previous-window count that httprate uses for its sliding
// estimate.
type fixedWindow struct {
	httprate.LimitCounter
}

func (f fixedWindow) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	curr, _, err := f.LimitCounter.Get(key, currentWindow, previousWindow)
	return curr, 0, err
}

// NewMemoryCounter keeps windows in process memory; counters reset on restart.
func NewMemoryCounter(window time.Duration) Counter {
	return fixedWindow{httprate.NewLocalLimitCounter(window)}
}

// RedisCounter shares windows across processes through Redis. Each window is its
// own key and expires shortly after the window closes.
type RedisCounter struct {
	client  redis.Cmdable
	prefix  string
	window  time.Duration
	timeout time.Duration
}

// NewRedisCounter builds a RedisCounter; keys are namespaced by prefix.
func NewRedisCounter(client redis.Cmdable, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisCounter{client: client, prefix: prefix, window: time.Minute, timeout: time.Second}
}

// Config implements httprate.LimitCounter.
func (c *RedisCounter) Config(_ int, windowLength time.Duration) {
	if windowLength > 0 {
		c.window = windowLength
	}
}

// Increment implements httprate.LimitCounter.
func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

// IncrementBy implements httprate.LimitCounter.
func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	redisKey := c.windowKey(key, currentWindow)
	pipe := c.client.TxPipeline()
	pipe.IncrBy(ctx, redisKey, int64(amount))
	pipe.PExpire(ctx, redisKey, 2*c.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: redis increment: %w", err)
	}
	return nil
}

// Get implements httprate.LimitCounter. The previous window always counts zero.
func (c *RedisCounter) Get(key string, currentWindow, _ time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	n, err := c.client.Get(ctx, c.windowKey(key, currentWindow)).Int()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	return n, 0, nil
}

func (c *RedisCounter) windowKey(key string, window time.Time) string {
	return c.prefix + ":" + key + strconv.FormatInt(window.Unix(), 10)
}
