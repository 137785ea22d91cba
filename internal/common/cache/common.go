package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// NullCacheValue marks a key whose source had nothing, so misses do not reach the source again.
const NullCacheValue = "$NULL$"

// Codec converts T to and from its cached string form.
type Codec[T any] struct {
	Encode func(T) string
	Decode func(string) (T, error)
}

// GetWithCached reads key through c, calling fetch on a miss.
// Values for which isEmpty holds are stored as NullCacheValue with emptyTTL; the rest with a
// jittered ttl. Undecodable entries count as misses. A fetch error is returned and nothing is cached.
// Cache read and write failures are ignored so an unreachable cache degrades to the source.
func GetWithCached[T any](
	ctx context.Context,
	c Cache,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	isEmpty func(T) bool,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fetch func(context.Context) (T, error),
) (T, error) {
	return GetWithCodec(ctx, c, key, ttl, emptyTTL, isEmpty, Codec[T]{Encode: marshal, Decode: unmarshal}, fetch)
}

// GetWithCodec is GetWithCached with the conversions grouped in a Codec.
func GetWithCodec[T any](
	ctx context.Context,
	c Cache,
	key string,
	ttl, emptyTTL time.Duration,
	isEmpty func(T) bool,
	codec Codec[T],
	fetch func(context.Context) (T, error),
) (T, error) {
	var zero T
	if raw, err := c.Get(ctx, key); err == nil && raw != "" {
		if raw == NullCacheValue {
			return zero, nil
		}
		if v, err := codec.Decode(raw); err == nil {
			return v, nil
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	if isEmpty(v) {
		_ = c.Set(ctx, key, NullCacheValue, emptyTTL)
		return zero, nil
	}
	_ = c.Set(ctx, key, codec.Encode(v), JitterTTL(ttl))
	return v, nil
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(spread+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
