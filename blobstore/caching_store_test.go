package blobstore

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a MemoryStore and counts backend reads.
type countingStore struct {
	*MemoryStore
	mu        sync.Mutex
	reads     int
	readBytes int
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, store: s}, nil
}

type countingBlob struct {
	Blob
	store *countingStore
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := b.Blob.ReadAt(ctx, p, off)
	b.store.mu.Lock()
	b.store.reads++
	b.store.readBytes += n
	b.store.mu.Unlock()
	return n, err
}

func newCountingStore(t *testing.T, name string, data []byte) *countingStore {
	t.Helper()
	s := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, s.Put(context.Background(), name, data))
	return s
}

func TestCachingStoreReadAt(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	inner := newCountingStore(t, "_0.tim", data)
	store := NewCachingStore(inner, cache.NewLRUBlockCache(1<<20, nil), 256)
	ctx := context.Background()

	blob, err := store.Open(ctx, "_0.tim")
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[:100], buf)
	assert.Equal(t, 1, inner.reads)
	assert.Equal(t, 256, inner.readBytes)

	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.reads)

	// Spans block 0 (cached) and block 1 (not cached).
	_, err = blob.ReadAt(ctx, buf, 200)
	require.NoError(t, err)
	assert.Equal(t, data[200:300], buf)
	assert.Equal(t, 2, inner.reads)
	assert.Equal(t, 512, inner.readBytes)

	// Blocks 2 and 3 are fetched by one backend read.
	big := make([]byte, 512)
	_, err = blob.ReadAt(ctx, big, 512)
	require.NoError(t, err)
	assert.Equal(t, data[512:], big)
	assert.Equal(t, 3, inner.reads)
}

func TestCachingStoreShortReadAndRange(t *testing.T) {
	inner := newCountingStore(t, "small", []byte("hello"))
	store := NewCachingStore(inner, cache.NewLRUBlockCache(1024, nil), 256)
	ctx := context.Background()

	blob, err := store.Open(ctx, "small")
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := blob.ReadAt(ctx, buf, 0)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "hello", string(buf[:n]))

	all, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(all))
}

func TestCachingStoreDeleteInvalidates(t *testing.T) {
	inner := newCountingStore(t, "_3.doc", []byte("abc"))
	c := cache.NewLRUBlockCache(1024, nil)
	store := NewCachingStore(inner, c, 256)
	ctx := context.Background()

	blob, err := store.Open(ctx, "_3.doc")
	require.NoError(t, err)
	_, err = ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Size())

	require.NoError(t, store.Delete(ctx, "_3.doc"))
	assert.Equal(t, int64(0), c.Size())
	_, err = store.Open(ctx, "_3.doc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStoreBypass(t *testing.T) {
	inner := newCountingStore(t, "CURRENT", []byte("MANIFEST-000001.bin"))
	c := cache.NewLRUBlockCache(1024, nil)
	store := NewCachingStore(inner, c, 256, BypassCache("CURRENT"))
	ctx := context.Background()

	read := func() string {
		blob, err := store.Open(ctx, "CURRENT")
		require.NoError(t, err)
		defer blob.Close()
		data, err := ReadAll(ctx, blob)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "MANIFEST-000001.bin", read())
	assert.Zero(t, c.Size())

	// Another process replaces the pointer behind the cache's back.
	require.NoError(t, inner.Put(ctx, "CURRENT", []byte("MANIFEST-000002.bin")))
	assert.Equal(t, "MANIFEST-000002.bin", read())
}
