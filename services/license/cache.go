package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"medilicense/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Cache is the generic get/put/forget collaborator. TTL is a hint only;
// correctness comes from synchronous Forget on every mutation.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Forget(ctx context.Context, keys ...string) error
}

// viewKeys lists every cache key derived from the current license.
func viewKeys() []string {
	keys := make([]string, 0, len(ResourceTypes)+1)
	keys = append(keys, rediskey.LicenseCurrentKey)
	for _, rt := range ResourceTypes {
		keys = append(keys, rediskey.BuildUsageKey(string(rt)))
	}
	return keys
}

type memoryItem struct {
	raw       []byte
	expiresAt time.Time
}

type memoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryCache returns a process local Cache. Values are stored as JSON so
// callers never share pointers with the cache.
func NewMemoryCache() Cache {
	return &memoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *memoryCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || (!item.expiresAt.IsZero() && !c.now().Before(item.expiresAt)) {
		cacheMiss.WithLabelValues("memory").Inc()
		return false, nil
	}
	if err := json.Unmarshal(item.raw, dst); err != nil {
		return false, err
	}
	cacheHits.WithLabelValues("memory").Inc()
	return true, nil
}

func (c *memoryCache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	item := memoryItem{raw: raw}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item
	return nil
}

func (c *memoryCache) Forget(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

type redisCache struct {
	rdb     redis.UniversalClient
	breaker *gobreaker.CircuitBreaker[any]
}

// NewRedisCache wraps a redis client with a circuit breaker so a flapping
// redis fails fast instead of stalling every license check.
func NewRedisCache(rdb redis.UniversalClient) Cache {
	settings := gobreaker.Settings{
		Name:        "license-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("license cache breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &redisCache{
		rdb:     rdb,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (c *redisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		return c.rdb.Get(ctx, key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		cacheMiss.WithLabelValues("redis").Inc()
		return false, nil
	}
	if err != nil {
		cacheErrors.WithLabelValues("redis", "get").Inc()
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	raw, _ := v.([]byte)
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	cacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

func (c *redisCache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.rdb.Set(ctx, key, raw, ttl).Err()
	})
	if err != nil {
		cacheErrors.WithLabelValues("redis", "put").Inc()
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.rdb.Del(ctx, keys...).Err()
	})
	if err != nil {
		cacheErrors.WithLabelValues("redis", "forget").Inc()
		return fmt.Errorf("cache forget: %w", err)
	}
	return nil
}
