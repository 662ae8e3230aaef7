package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `seg\*\?\[x\]`, globEscape("seg*?[x]"))
	assert.Equal(t, "_0.fdt", globEscape("_0.fdt"))
}

func TestRedisBlockCacheIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := DialRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0, 4)
	require.NoError(t, err)

	prefix := "lexgo-test-" + time.Now().Format("150405.000000") + ":"
	c := NewRedisBlockCache(rdb, RedisOptions{Prefix: prefix, TTL: time.Minute})
	defer c.Close()

	key := CacheKey{Kind: CacheKindBlob, Path: "_0.tim", Offset: 3}
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Set(ctx, key, []byte("block"))
	v, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("block"), v)

	c.InvalidatePath(ctx, "_0.tim")
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}
