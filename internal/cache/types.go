package cache

import "context"

// CacheKind separates key spaces.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	// CacheKindBlob holds raw blob blocks read through blobstore.CachingStore.
	CacheKindBlob
	// CacheKindStoredFields holds decompressed stored-field blocks.
	CacheKindStoredFields
)

// CacheKey identifies a block. Blobs are immutable and never reuse names, so
// a key never refers to stale data.
type CacheKey struct {
	Kind   CacheKind
	Path   string
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks. Returned slices
// are read-only.
type BlockCache interface {
	Get(ctx context.Context, key CacheKey) ([]byte, bool)
	// Set caches b. The caller must not modify b afterwards.
	Set(ctx context.Context, key CacheKey, b []byte)
	// InvalidatePath drops every block of path.
	InvalidatePath(ctx context.Context, path string)
	Close() error
	Stats() (hits, misses int64)
}
