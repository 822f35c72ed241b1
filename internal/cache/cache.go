package cache

import (
	"context"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr bumps a counter and (re)arms its expiry, returning the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RateLimiter interface {
	// Allow counts one hit against key within a fixed window and reports
	// whether the count is still within limit.
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}
