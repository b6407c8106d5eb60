package cache

import (
	"context"
	"time"
)

// promoteTTL bounds how long an L2 hit lives in L1 before the next
// round trip. Kept short so L1 never outlives the Redis entry by much.
const promoteTTL = 30 * time.Second

// LayeredCache puts an in-process LRU in front of Redis. Writes go
// through to both layers; reads served from memory skip the network.
type LayeredCache struct {
	mem *MemoryCache
	rdb *RedisCache
}

// NewLayeredCache wraps redisCache with an L1 memory layer.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{MemoryMaxEntries: 1000}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem: NewMemoryCache(WithMemoryMaxEntries(cfg.MemoryMaxEntries)),
		rdb: redisCache,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.rdb.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, expiration)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.rdb.Get(ctx, key, dest); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, dest, promoteTTL)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.rdb.Delete(ctx, keys...)
}

// Exists consults Redis only; L1 is a strict subset.
func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.rdb.Exists(ctx, keys...)
}

// Close shuts down both layers.
func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.rdb.Close()
}
