package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/lexgo/internal/cache"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCacheBlockSize = 64 * 1024
	maxParallelFills      = 16
)

// CachingStore reads through a block cache in front of another store. Only
// reads are cached; blobs are immutable, so deletes and Puts just drop the
// blocks of the affected name.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
	bypass    map[string]bool
}

// CachingOption configures a CachingStore.
type CachingOption func(*CachingStore)

// BypassCache reads names straight from the inner store. Use it for blobs
// that other processes replace with Put, such as a commit pointer.
func BypassCache(names ...string) CachingOption {
	return func(s *CachingStore) {
		for _, n := range names {
			s.bypass[n] = true
		}
	}
}

// NewCachingStore wraps inner. blockSize defaults to 64KiB.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64, opts ...CachingOption) *CachingStore {
	if blockSize <= 0 {
		blockSize = defaultCacheBlockSize
	}
	s := &CachingStore{inner: inner, cache: c, blockSize: blockSize, bypass: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil || s.bypass[name] {
		return b, err
	}
	return &cachingBlob{inner: b, cache: s.cache, name: name, blockSize: s.blockSize}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.InvalidatePath(ctx, name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.InvalidatePath(ctx, name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Close closes the block cache.
func (s *CachingStore) Close() error { return s.cache.Close() }

type cachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) key(blk int64) cache.CacheKey {
	return cache.CacheKey{Kind: cache.CacheKindBlob, Path: b.name, Offset: uint64(blk)}
}

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), size)
	startBlock := off / b.blockSize
	endBlock := (end - 1) / b.blockSize

	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	total := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		data, err := b.block(ctx, blk)
		if err != nil {
			return total, err
		}
		blkStart := blk * b.blockSize
		from := max(off, blkStart)
		to := min(end, blkStart+int64(len(data)))
		if to <= from {
			break
		}
		total += copy(p[from-off:to-off], data[from-blkStart:to-blkStart])
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// fillCache loads missing blocks, fetching each contiguous run of misses with
// one backend read.
func (b *cachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	type run struct{ start, count int64 }
	var missing []run
	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := b.cache.Get(ctx, b.key(blk)); ok {
			continue
		}
		if n := len(missing); n > 0 && missing[n-1].start+missing[n-1].count == blk {
			missing[n-1].count++
		} else {
			missing = append(missing, run{start: blk, count: 1})
		}
	}
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFills)
	size := b.Size()
	for _, r := range missing {
		g.Go(func() error {
			start := r.start * b.blockSize
			length := min(r.count*b.blockSize, size-start)
			if length <= 0 {
				return nil
			}
			buf := make([]byte, length)
			n, err := b.inner.ReadAt(gctx, buf, start)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]
			for i := int64(0); i < r.count; i++ {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run.
				b.cache.Set(gctx, b.key(r.start+i), append([]byte(nil), buf[lo:hi]...))
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *cachingBlob) block(ctx context.Context, blk int64) ([]byte, error) {
	if data, ok := b.cache.Get(ctx, b.key(blk)); ok {
		return data, nil
	}
	// Evicted between fill and use, or rejected by the cache.
	start := blk * b.blockSize
	length := min(b.blockSize, b.Size()-start)
	buf := make([]byte, length)
	n, err := b.inner.ReadAt(ctx, buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func (b *cachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length), nil
}
