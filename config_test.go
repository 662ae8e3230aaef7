package lexgo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/segment"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexgo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 10000, cfg.Writer.RAMBufferDocs)
	assert.Equal(t, "lz4", cfg.Writer.Compression)
	assert.Equal(t, "smallest_first", cfg.Merge.TieBreak)
	assert.True(t, cfg.Reader.VerifyChecksums)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: s3
  s3:
    bucket: search-index
    prefix: tenants/acme
    region: eu-central-1
    dynamodbTable: lexgo-commits
writer:
  ramBufferDocs: 500
  compression: zstd
merge:
  segmentsPerTier: 4
  tieBreak: oldest_first
reader:
  refreshInterval: 250ms
logging:
  format: json
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "search-index", cfg.Storage.S3.Bucket)
	assert.Equal(t, "lexgo-commits", cfg.Storage.S3.DynamoDBTable)
	assert.Equal(t, 500, cfg.Writer.RAMBufferDocs)
	assert.Equal(t, "zstd", cfg.Writer.Compression)
	assert.Equal(t, 250*time.Millisecond, cfg.Reader.RefreshInterval)

	// Keys the file leaves out keep their defaults.
	assert.True(t, cfg.Writer.CommitOnClose)
	assert.Equal(t, 10, cfg.Merge.MaxMergeAtOnce)

	p, err := cfg.MergePolicy()
	require.NoError(t, err)
	assert.Equal(t, 4, p.SegmentsPerTier)
	assert.Equal(t, merge.TieBreakOldestFirst, p.TieBreak)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: local\n  path: /var/lib/lexgo\n")
	t.Setenv("LEXGO_STORAGE_BACKEND", "memory")
	t.Setenv("LEXGO_RAM_BUFFER_DOCS", "42")
	t.Setenv("LEXGO_MEMORY_LIMIT_BYTES", "1048576")
	t.Setenv("LEXGO_VERIFY_CHECKSUMS", "false")
	t.Setenv("LEXGO_REFRESH_INTERVAL", "1s")
	t.Setenv("LEXGO_COMPRESSION", "snappy")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/lexgo", cfg.Storage.Path)
	assert.Equal(t, 42, cfg.Writer.RAMBufferDocs)
	assert.Equal(t, int64(1<<20), cfg.Writer.MemoryLimitBytes)
	assert.False(t, cfg.Reader.VerifyChecksums)
	assert.Equal(t, time.Second, cfg.Reader.RefreshInterval)
	assert.Equal(t, "snappy", cfg.Writer.Compression)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "writer: [oops"))
		assert.Error(t, err)
	})
	t.Run("bad env", func(t *testing.T) {
		t.Setenv("LEXGO_RAM_BUFFER_DOCS", "many")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "LEXGO_RAM_BUFFER_DOCS")
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"local without path", func(c *Config) { c.Storage.Path = "" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = "minio" }},
		{"unknown cache", func(c *Config) { c.Cache.Type = "memcached" }},
		{"unknown compression", func(c *Config) { c.Writer.Compression = "brotli" }},
		{"unknown tie break", func(c *Config) { c.Merge.TieBreak = "random" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)
			_, err := cfg.Options()
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Writer.Compression = "snappy"
	cfg.Writer.RAMBufferDocs = 0
	cfg.Merge.Background = false
	cfg.Logging.Format = "none"

	opts, err := cfg.Options()
	require.NoError(t, err)
	o := applyOptions(opts)
	assert.True(t, o.verifyChecksums)
	assert.Zero(t, o.refreshInterval)
	assert.NotEmpty(t, o.engine)

	ctx := context.Background()
	idx, err := Open(ctx, blobstore.NewMemoryStore(), opts...)
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.AddDocument(ctx, product("a", "x", 1)))
	require.NoError(t, idx.Commit(ctx, nil))
	assert.Equal(t, 1, idx.Stats().Docs)
}

func TestConfigLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "none"
	assert.False(t, cfg.Logger().Enabled(context.Background(), parseLevel("error")))

	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"
	l := cfg.Logger()
	assert.True(t, l.Enabled(context.Background(), parseLevel("error")))
	assert.False(t, l.Enabled(context.Background(), parseLevel("info")))
}

func TestConfigOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Backend = "memory"
		store, err := cfg.OpenStore(ctx)
		require.NoError(t, err)
		assert.IsType(t, &blobstore.MemoryStore{}, store)
	})

	t.Run("local", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Path = filepath.Join(t.TempDir(), "index")
		store, err := cfg.OpenStore(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "probe", []byte("x")))
		_, err = os.Stat(filepath.Join(cfg.Storage.Path, "probe"))
		assert.NoError(t, err)
	})

	t.Run("lru cache", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Path = filepath.Join(t.TempDir(), "index")
		cfg.Cache.Type = "lru"
		cfg.Cache.CapacityBytes = 1 << 20
		cfg.Cache.BlockSize = 1024

		store, err := cfg.OpenStore(ctx)
		require.NoError(t, err)
		cs, ok := store.(*blobstore.CachingStore)
		require.True(t, ok)
		defer cs.Close()

		idx, err := Open(ctx, store, WithBackgroundMerges(false))
		require.NoError(t, err)
		require.NoError(t, idx.AddDocument(ctx, product("a", "cached", 1)))
		require.NoError(t, idx.Commit(ctx, nil))
		require.NoError(t, idx.Close())

		r, err := OpenReader(ctx, store)
		require.NoError(t, err)
		defer r.Close()
		v, err := r.Acquire()
		require.NoError(t, err)
		defer r.Release(v)
		assert.Equal(t, []string{"a"}, ids(t, v))
	})
}

func TestConfigOpenStoreRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Cache.Type = "redis"
	cfg.Cache.Redis.Addr = addr
	cfg.Cache.Redis.Prefix = "lexgo-test:" + t.Name() + ":"

	store, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	cs, ok := store.(*blobstore.CachingStore)
	require.True(t, ok)
	defer cs.Close()

	require.NoError(t, store.Put(ctx, "probe", []byte("hello")))
	b, err := store.Open(ctx, "probe")
	require.NoError(t, err)
	defer b.Close()
	data, err := blobstore.ReadAll(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDefaultConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	c, err := segment.ParseCompression(cfg.Writer.Compression)
	require.NoError(t, err)
	assert.Equal(t, segment.CompressionLZ4, c)

	p, err := cfg.MergePolicy()
	require.NoError(t, err)
	assert.Equal(t, DefaultTieredPolicy(), p)
}
