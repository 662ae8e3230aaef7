package cache

import (
	"context"
	"testing"

	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobKey(path string, off uint64) CacheKey {
	return CacheKey{Kind: CacheKindBlob, Path: path, Offset: off}
}

func TestLRUBlockCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(10, nil)

	c.Set(ctx, blobKey("a", 0), []byte("1234"))
	c.Set(ctx, blobKey("a", 1), []byte("5678"))
	_, ok := c.Get(ctx, blobKey("a", 0))
	require.True(t, ok)

	// Evicts a/1, the least recently used.
	c.Set(ctx, blobKey("b", 0), []byte("abcd"))
	_, ok = c.Get(ctx, blobKey("a", 1))
	assert.False(t, ok)
	v, ok := c.Get(ctx, blobKey("a", 0))
	require.True(t, ok)
	assert.Equal(t, []byte("1234"), v)
	assert.Equal(t, int64(8), c.Size())

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	c.Set(ctx, blobKey("huge", 0), make([]byte, 11))
	_, ok = c.Get(ctx, blobKey("huge", 0))
	assert.False(t, ok)
}

func TestLRUBlockCacheReplaceAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(100, nil)

	c.Set(ctx, blobKey("_0.doc", 0), []byte("old"))
	c.Set(ctx, blobKey("_0.doc", 0), []byte("newer"))
	assert.Equal(t, int64(5), c.Size())

	c.Set(ctx, blobKey("_0.doc", 1), []byte("x"))
	c.Set(ctx, blobKey("_1.doc", 0), []byte("y"))
	c.InvalidatePath(ctx, "_0.doc")
	_, ok := c.Get(ctx, blobKey("_0.doc", 1))
	assert.False(t, ok)
	_, ok = c.Get(ctx, blobKey("_1.doc", 0))
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Size())
}

func TestLRUBlockCacheMemoryAccounting(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 6})
	c := NewLRUBlockCache(100, rc)

	c.Set(ctx, blobKey("a", 0), []byte("1234"))
	assert.Equal(t, int64(4), rc.MemoryUsage())

	// Denied by the controller: not cached.
	c.Set(ctx, blobKey("a", 1), []byte("5678"))
	_, ok := c.Get(ctx, blobKey("a", 1))
	assert.False(t, ok)

	require.NoError(t, c.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestShardedLRUBlockCache(t *testing.T) {
	ctx := context.Background()
	c := NewShardedLRUBlockCache(1<<20, nil)

	for i := uint64(0); i < 100; i++ {
		c.Set(ctx, blobKey("_2.tim", i), []byte{byte(i)})
	}
	for i := uint64(0); i < 100; i++ {
		v, ok := c.Get(ctx, blobKey("_2.tim", i))
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, v)
	}
	assert.Equal(t, int64(100), c.Size())

	c.InvalidatePath(ctx, "_2.tim")
	assert.Equal(t, int64(0), c.Size())
	hits, misses := c.Stats()
	assert.Equal(t, int64(100), hits)
	assert.Equal(t, int64(0), misses)
	require.NoError(t, c.Close())
}
