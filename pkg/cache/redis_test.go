package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

func setupTestRedis(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedis(client, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedis_SetAndGet(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", core.Result{"text": "hello", "issues": []string{"a"}, "count": 3})

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "hello", v.String("text"))
	assert.Equal(t, []string{"a"}, v.Strings("issues"))
	assert.Equal(t, float64(3), v["count"])
}

func TestRedis_Miss(t *testing.T) {
	_, c := setupTestRedis(t)
	v, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestRedis_EmptyResultIsHit(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()
	c.Set(ctx, "empty", core.Result{})

	_, ok := c.Get(ctx, "empty")
	assert.True(t, ok)
}

func TestRedis_TTLAndPrefix(t *testing.T) {
	mr, c := setupTestRedis(t, WithTTL(time.Minute), WithPrefix("test:"))
	ctx := context.Background()
	c.Set(ctx, "k", core.Result{"ok": true})

	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis_OutageIsMiss(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()
	c.Set(ctx, "k", core.Result{"ok": true})
	mr.Close()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	c.Set(ctx, "k2", core.Result{"ok": true})
	assert.Error(t, c.Ping(ctx))
}

func TestRedis_UndecodableEntryIsMiss(t *testing.T) {
	mr, c := setupTestRedis(t)
	require.NoError(t, mr.Set("tgads:cache:bad", "not json"))

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := DialRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "p:"})
	require.NoError(t, err)
	defer c.Close()

	c.Set(context.Background(), "k", core.Result{"v": "x"})
	assert.True(t, mr.Exists("p:k"))
}
