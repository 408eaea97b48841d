// Package cache stores AI responses by fingerprint. Entries are process-wide
// and not tenant scoped.
package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when no live entry exists.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// RedisCache wraps go-redis. All keys live under prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return res, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisCache) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisCache) Keys(ctx context.Context) ([]string, error) {
	raw, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(r.prefix):])
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisCache) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	return r.client.Del(ctx, keys...).Err()
}

// MemoryCache is a simple in-memory TTL cache. Expired entries are dropped
// when touched.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memItem{}, now: time.Now}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if item.expired(m.now()) {
		delete(m.items, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), item.value...), nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *MemoryCache) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	keys := make([]string, 0, len(m.items))
	for k, v := range m.items {
		if v.expired(now) {
			delete(m.items, k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = map[string]memItem{}
	return nil
}

// NewCache tries redis, falls back to memory.
func NewCache(ctx context.Context, client *redis.Client, prefix string) Cache {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedisCache(client, prefix)
		}
	}
	return NewMemoryCache()
}
