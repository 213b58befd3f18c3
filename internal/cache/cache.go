package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores JSON-encoded values under string keys. Get decodes into dest
// and returns ErrCacheMiss when the key is absent or expired.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// New picks a backend by the CACHE_TYPE names used in deployment configs.
func New(cacheType string, redisCfg RedisConfig) (Cache, error) {
	switch cacheType {
	case "redis", "rediscache":
		return NewRedisCache(redisCfg)
	case "null", "nullcache":
		return NullCache{}, nil
	default:
		return NewMemoryCache(), nil
	}
}
