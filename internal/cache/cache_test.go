package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c Cache, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "fp-1", []byte(`{"ok":true}`), time.Minute))
	require.NoError(t, c.Set(ctx, "fp-2", []byte(`{"n":2}`), 0))

	got, err := c.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1", "fp-2"}, keys)

	expire(2 * time.Minute)
	_, err = c.Get(ctx, "fp-1")
	assert.ErrorIs(t, err, ErrMiss)
	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-2"}, keys)

	require.NoError(t, c.Clear(ctx))
	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	exerciseCache(t, c, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// keys outside the prefix are never listed or cleared
	mr.Set("other:key", "x")

	c := NewCache(context.Background(), client, "signalflow:ai:")
	require.IsType(t, &RedisCache{}, c)

	exerciseCache(t, c, mr.FastForward)
	assert.True(t, mr.Exists("other:key"))
}

func TestNewCacheFallsBackToMemory(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	assert.IsType(t, &MemoryCache{}, NewCache(context.Background(), client, "p:"))
	assert.IsType(t, &MemoryCache{}, NewCache(context.Background(), nil, "p:"))
}
