package cache

import (
	"context"
	"time"
)

// Cache is the key-value subset of redis used by the judge.
// Get reports a missing key as "" with a nil error. A zero ttl never expires.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX reports whether the key was set; false means it already existed.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}
