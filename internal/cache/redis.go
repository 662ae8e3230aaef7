package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBlockCache.
type RedisOptions struct {
	// Prefix namespaces keys. Defaults to "lexgo:".
	Prefix string
	// TTL expires cached blocks. 0 keeps them until evicted by Redis.
	TTL time.Duration
	// Logger receives cache errors at debug level.
	Logger *slog.Logger
}

// RedisBlockCache stores blocks in Redis so several processes reading the
// same remote store share fetched blocks. Redis errors degrade to misses.
type RedisBlockCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ BlockCache = (*RedisBlockCache)(nil)

// NewRedisBlockCache wraps rdb. Close closes rdb.
func NewRedisBlockCache(rdb redis.UniversalClient, opts RedisOptions) *RedisBlockCache {
	if opts.Prefix == "" {
		opts.Prefix = "lexgo:"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &RedisBlockCache{rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL, logger: opts.Logger}
}

// DialRedis connects to addr and verifies the connection with a PING.
func DialRedis(ctx context.Context, addr, password string, db, poolSize int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (c *RedisBlockCache) key(k CacheKey) string {
	return c.prefix + k.Path + ":" + strconv.Itoa(int(k.Kind)) + ":" + strconv.FormatUint(k.Offset, 10)
}

func (c *RedisBlockCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("redis cache get failed", "path", key.Path, "offset", key.Offset, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return b, true
}

func (c *RedisBlockCache) Set(ctx context.Context, key CacheKey, b []byte) {
	if err := c.rdb.Set(ctx, c.key(key), b, c.ttl).Err(); err != nil {
		c.logger.Debug("redis cache set failed", "path", key.Path, "offset", key.Offset, "error", err)
	}
}

// InvalidatePath scans for the keys of path and deletes them.
func (c *RedisBlockCache) InvalidatePath(ctx context.Context, path string) {
	pattern := c.prefix + globEscape(path) + ":*"
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Debug("redis cache delete failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Debug("redis cache scan failed", "pattern", pattern, "error", err)
	}
}

func (c *RedisBlockCache) Close() error { return c.rdb.Close() }

func (c *RedisBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }
