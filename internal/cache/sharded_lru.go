package cache

import (
	"context"
	"encoding/binary"
	"hash/maphash"

	"github.com/hupe1980/lexgo/internal/resource"
)

const numShards = 16

// ShardedLRUBlockCache spreads keys over independent LRU shards to reduce
// lock contention under many concurrent readers.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
	seed   maphash.Seed
}

var _ BlockCache = (*ShardedLRUBlockCache)(nil)

// NewShardedLRUBlockCache divides capacity evenly across the shards.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	per := max(capacity/numShards, 1)
	s := &ShardedLRUBlockCache{seed: maphash.MakeSeed()}
	for i := range s.shards {
		s.shards[i] = NewLRUBlockCache(per, rc)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(key CacheKey) *LRUBlockCache {
	var h maphash.Hash
	h.SetSeed(s.seed)
	_, _ = h.WriteString(key.Path)
	var buf [9]byte
	buf[0] = byte(key.Kind)
	binary.LittleEndian.PutUint64(buf[1:], key.Offset)
	_, _ = h.Write(buf[:])
	return s.shards[h.Sum64()%numShards]
}

func (s *ShardedLRUBlockCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

func (s *ShardedLRUBlockCache) Set(ctx context.Context, key CacheKey, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

func (s *ShardedLRUBlockCache) InvalidatePath(ctx context.Context, path string) {
	for _, sh := range s.shards {
		sh.InvalidatePath(ctx, path)
	}
}

func (s *ShardedLRUBlockCache) Close() error {
	for _, sh := range s.shards {
		if err := sh.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the cached bytes across shards.
func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}
