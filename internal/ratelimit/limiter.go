// Package ratelimit gates order creation with a fixed window counter. It is
// the outermost guard: a limited request never reaches the store.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radityapw/go-digital-orders/internal/redisx"
)

// Counter increments a window counter and returns the new count.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter shares window state across instances, so the limit is global.
type RedisCounter struct{ R *redis.Client }

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.R.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX keeps the expiry anchored to the first hit in the window
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryCounter keeps window state per process. Under horizontal scaling
// each instance enforces its own limit, so the effective global threshold is
// limit × instances. Use RedisCounter when that matters.
type MemoryCounter struct {
	mu sync.Mutex
	m  map[string]*memEntry
}

type memEntry struct {
	count   int64
	expires time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{m: map[string]*memEntry{}}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || now.After(e.expires) {
		e = &memEntry{expires: now.Add(window)}
		c.m[key] = e
	}
	e.count++
	return e.count, nil
}

type Limiter struct {
	Counter Counter
	Max     int
	Window  time.Duration
}

// Allow reports whether this request fits in the identity's current window.
// Requests 1..Max pass, Max+1 and later are limited until the window turns
// over. Counter failures fail open: an unreachable redis must not take order
// creation down with it.
func (l *Limiter) Allow(ctx context.Context, scope, identity string) (bool, error) {
	windowStart := time.Now().Truncate(l.Window).Unix()
	key := fmt.Sprintf(redisx.KeyRateLimit, scope, identity, windowStart)
	n, err := l.Counter.Incr(ctx, key, l.Window)
	if err != nil {
		return true, err
	}
	return n <= int64(l.Max), nil
}
