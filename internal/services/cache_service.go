package services

import (
	"context"
	"time"
)

// CacheService is the slice of the Redis wrapper the chat layer needs:
// read-through caching of chat documents plus a SetNX guard for
// create-or-join. Implemented by pkg/cache.RedisCache.
type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Ping(ctx context.Context) error
}
