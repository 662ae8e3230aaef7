package lexgo

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/lexgo/blobstore"
	minioblob "github.com/hupe1980/lexgo/blobstore/minio"
	"github.com/hupe1980/lexgo/blobstore/s3"
	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/segment"
)

// Config is the file form of the index settings.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Writer  WriterConfig  `yaml:"writer"`
	Merge   MergeConfig   `yaml:"merge"`
	Reader  ReaderConfig  `yaml:"reader"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects the blob store. Backend is one of local, memory,
// s3 or minio.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	S3      S3Config    `yaml:"s3"`
	MinIO   MinIOConfig `yaml:"minio"`
}

// S3Config configures the s3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// DynamoDBTable keeps the commit pointer in DynamoDB when set.
	DynamoDBTable     string `yaml:"dynamodbTable"`
	ConditionalWrites bool   `yaml:"conditionalWrites"`
	PartSize          int64  `yaml:"partSize"`
	Concurrency       int    `yaml:"concurrency"`
}

// MinIOConfig configures the minio backend.
type MinIOConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	Region       string `yaml:"region"`
	Secure       bool   `yaml:"secure"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	CreateBucket bool   `yaml:"createBucket"`
}

// CacheConfig puts a block cache in front of the store. Type is empty, lru
// or redis.
type CacheConfig struct {
	Type          string      `yaml:"type"`
	CapacityBytes int64       `yaml:"capacityBytes"`
	BlockSize     int64       `yaml:"blockSize"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis block cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// WriterConfig configures buffering and new segments.
type WriterConfig struct {
	RAMBufferDocs    int    `yaml:"ramBufferDocs"`
	MemoryLimitBytes int64  `yaml:"memoryLimitBytes"`
	Compression      string `yaml:"compression"`
	CommitOnClose    bool   `yaml:"commitOnClose"`
}

// MergeConfig configures the merge scheduler and the tiered policy.
type MergeConfig struct {
	Background            bool    `yaml:"background"`
	MaxConcurrent         int     `yaml:"maxConcurrent"`
	IORateBytesPerSec     int64   `yaml:"ioRateBytesPerSec"`
	SegmentsPerTier       int     `yaml:"segmentsPerTier"`
	MaxMergeAtOnce        int     `yaml:"maxMergeAtOnce"`
	MaxMergedSegmentBytes int64   `yaml:"maxMergedSegmentBytes"`
	FloorSegmentBytes     int64   `yaml:"floorSegmentBytes"`
	ReclaimDeletesPct     float64 `yaml:"reclaimDeletesPct"`
	TieBreak              string  `yaml:"tieBreak"`
}

// ReaderConfig configures segment opening and refreshing.
type ReaderConfig struct {
	VerifyChecksums bool          `yaml:"verifyChecksums"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// LoggingConfig selects the logger. Format is text, json or none.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the settings used for keys a file leaves out.
func DefaultConfig() *Config {
	p := merge.DefaultTieredPolicy()
	return &Config{
		Storage: StorageConfig{
			Backend: "local",
			Path:    "./index",
		},
		Cache: CacheConfig{
			CapacityBytes: 256 * merge.MB,
			BlockSize:     64 * 1024,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				TTL:      time.Hour,
				Prefix:   "lexgo:",
			},
		},
		Writer: WriterConfig{
			RAMBufferDocs: 10000,
			Compression:   segment.CompressionLZ4.String(),
			CommitOnClose: true,
		},
		Merge: MergeConfig{
			Background:            true,
			MaxConcurrent:         1,
			SegmentsPerTier:       p.SegmentsPerTier,
			MaxMergeAtOnce:        p.MaxMergeAtOnce,
			MaxMergedSegmentBytes: p.MaxMergedSegmentBytes,
			FloorSegmentBytes:     p.FloorSegmentBytes,
			ReclaimDeletesPct:     p.ReclaimDeletesPct,
			TieBreak:              p.TieBreak.String(),
		},
		Reader: ReaderConfig{
			VerifyChecksums: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and applies LEXGO_*
// environment overrides. An empty path uses the defaults and environment
// only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var err error
	num := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	integer := func(key string, dst *int) {
		n := int64(*dst)
		num(key, &n)
		*dst = int(n)
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	str("LEXGO_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("LEXGO_STORAGE_PATH", &cfg.Storage.Path)
	str("LEXGO_S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("LEXGO_S3_PREFIX", &cfg.Storage.S3.Prefix)
	str("LEXGO_S3_REGION", &cfg.Storage.S3.Region)
	str("LEXGO_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("LEXGO_S3_DYNAMODB_TABLE", &cfg.Storage.S3.DynamoDBTable)
	boolean("LEXGO_S3_CONDITIONAL_WRITES", &cfg.Storage.S3.ConditionalWrites)
	str("LEXGO_MINIO_ENDPOINT", &cfg.Storage.MinIO.Endpoint)
	str("LEXGO_MINIO_ACCESS_KEY", &cfg.Storage.MinIO.AccessKey)
	str("LEXGO_MINIO_SECRET_KEY", &cfg.Storage.MinIO.SecretKey)
	str("LEXGO_MINIO_BUCKET", &cfg.Storage.MinIO.Bucket)
	str("LEXGO_MINIO_PREFIX", &cfg.Storage.MinIO.Prefix)
	boolean("LEXGO_MINIO_SECURE", &cfg.Storage.MinIO.Secure)
	str("LEXGO_CACHE_TYPE", &cfg.Cache.Type)
	num("LEXGO_CACHE_CAPACITY_BYTES", &cfg.Cache.CapacityBytes)
	str("LEXGO_REDIS_ADDR", &cfg.Cache.Redis.Addr)
	str("LEXGO_REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	integer("LEXGO_REDIS_DB", &cfg.Cache.Redis.DB)
	integer("LEXGO_RAM_BUFFER_DOCS", &cfg.Writer.RAMBufferDocs)
	num("LEXGO_MEMORY_LIMIT_BYTES", &cfg.Writer.MemoryLimitBytes)
	str("LEXGO_COMPRESSION", &cfg.Writer.Compression)
	boolean("LEXGO_COMMIT_ON_CLOSE", &cfg.Writer.CommitOnClose)
	boolean("LEXGO_MERGE_BACKGROUND", &cfg.Merge.Background)
	integer("LEXGO_MERGE_MAX_CONCURRENT", &cfg.Merge.MaxConcurrent)
	num("LEXGO_MERGE_IO_RATE", &cfg.Merge.IORateBytesPerSec)
	boolean("LEXGO_VERIFY_CHECKSUMS", &cfg.Reader.VerifyChecksums)
	duration("LEXGO_REFRESH_INTERVAL", &cfg.Reader.RefreshInterval)
	str("LEXGO_LOG_LEVEL", &cfg.Logging.Level)
	str("LEXGO_LOG_FORMAT", &cfg.Logging.Format)
	return err
}

// Validate checks enumerated values and required settings.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: config: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "local":
		if c.Storage.Path == "" {
			return invalid("storage.path is required for the local backend")
		}
	case "memory":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket is required")
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return invalid("storage.minio.endpoint and storage.minio.bucket are required")
		}
	default:
		return invalid("unknown storage backend %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.Cache.Type) {
	case "", "none", "lru", "redis":
	default:
		return invalid("unknown cache type %q", c.Cache.Type)
	}
	if _, err := segment.ParseCompression(c.Writer.Compression); err != nil {
		return invalid("writer.compression: %v", err)
	}
	if _, err := merge.ParseTieBreak(c.Merge.TieBreak); err != nil {
		return invalid("merge.tieBreak: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json", "none":
	default:
		return invalid("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// Logger builds the configured logger.
func (c *Config) Logger() *Logger {
	level := parseLevel(c.Logging.Level)
	switch strings.ToLower(c.Logging.Format) {
	case "json":
		return NewJSONLogger(level)
	case "none":
		return NoopLogger()
	default:
		return NewTextLogger(level)
	}
}

// MergePolicy builds the configured tiered policy.
func (c *Config) MergePolicy() (*TieredPolicy, error) {
	tb, err := merge.ParseTieBreak(c.Merge.TieBreak)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return &TieredPolicy{
		SegmentsPerTier:       c.Merge.SegmentsPerTier,
		MaxMergeAtOnce:        c.Merge.MaxMergeAtOnce,
		MaxMergedSegmentBytes: c.Merge.MaxMergedSegmentBytes,
		FloorSegmentBytes:     c.Merge.FloorSegmentBytes,
		ReclaimDeletesPct:     c.Merge.ReclaimDeletesPct,
		TieBreak:              tb,
	}, nil
}

// Options maps the writer, merge, reader and logging settings onto
// options for Open and OpenReader.
func (c *Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	compression, err := segment.ParseCompression(c.Writer.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	policy, err := c.MergePolicy()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithLogger(c.Logger()),
		WithRAMBufferDocs(c.Writer.RAMBufferDocs),
		WithMemoryLimit(c.Writer.MemoryLimitBytes),
		WithCompression(compression),
		WithCommitOnClose(c.Writer.CommitOnClose),
		WithMergePolicy(policy),
		WithBackgroundMerges(c.Merge.Background),
		WithMaxConcurrentMerges(c.Merge.MaxConcurrent),
		WithMergeIORate(c.Merge.IORateBytesPerSec),
		WithVerifyChecksums(c.Reader.VerifyChecksums),
		WithRefreshInterval(c.Reader.RefreshInterval),
	}, nil
}

// OpenStore builds the configured blob store. When a cache is configured
// the result is a *blobstore.CachingStore whose Close releases the cache.
func (c *Config) OpenStore(ctx context.Context) (blobstore.BlobStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		store blobstore.BlobStore
		id    string
	)
	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
		store, id = blobstore.NewMemoryStore(), "memory"
	case "local":
		local, err := blobstore.NewLocalStore(c.Storage.Path)
		if err != nil {
			return nil, err
		}
		store, id = local, "file://"+c.Storage.Path
	case "s3":
		s3store, err := c.openS3(ctx)
		if err != nil {
			return nil, err
		}
		store, id = s3store, "s3://"+c.Storage.S3.Bucket+"/"+strings.Trim(c.Storage.S3.Prefix, "/")
	case "minio":
		m := c.Storage.MinIO
		mstore, err := minioblob.New(ctx, minioblob.Config{
			Endpoint:     m.Endpoint,
			AccessKey:    m.AccessKey,
			SecretKey:    m.SecretKey,
			Region:       m.Region,
			Secure:       m.Secure,
			Bucket:       m.Bucket,
			Prefix:       m.Prefix,
			CreateBucket: m.CreateBucket,
		})
		if err != nil {
			return nil, err
		}
		store, id = mstore, "minio://"+m.Bucket+"/"+strings.Trim(m.Prefix, "/")
	}

	var bc cache.BlockCache
	switch strings.ToLower(c.Cache.Type) {
	case "lru":
		bc = cache.NewShardedLRUBlockCache(c.Cache.CapacityBytes, nil)
	case "redis":
		r := c.Cache.Redis
		rdb, err := cache.DialRedis(ctx, r.Addr, r.Password, r.DB, r.PoolSize)
		if err != nil {
			return nil, err
		}
		bc = cache.NewRedisBlockCache(rdb, cache.RedisOptions{
			// Block keys are file names, so scope them to this store.
			Prefix: r.Prefix + id + ":",
			TTL:    r.TTL,
			Logger: c.Logger().Logger,
		})
	default:
		return store, nil
	}
	return blobstore.NewCachingStore(store, bc, c.Cache.BlockSize, blobstore.BypassCache(manifest.CurrentFileName)), nil
}

func (c *Config) openS3(ctx context.Context) (blobstore.BlobStore, error) {
	sc := c.Storage.S3
	var loadOpts []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(sc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	upload := s3.DefaultUploadConfig()
	if sc.PartSize > 0 {
		upload.PartSize = sc.PartSize
	}
	if sc.Concurrency > 0 {
		upload.Concurrency = sc.Concurrency
	}
	opts := []s3.Option{s3.WithPrefix(sc.Prefix), s3.WithUploadConfig(upload)}
	if sc.Endpoint != "" {
		opts = append(opts, s3.WithEndpoint(sc.Endpoint))
	}
	if sc.ConditionalWrites {
		opts = append(opts, s3.WithConditionalWrites())
	}
	files := s3.NewFromConfig(awsCfg, sc.Bucket, opts...)
	if sc.DynamoDBTable == "" {
		return files, nil
	}
	return s3.NewDDBCommitStoreFromConfig(files, awsCfg, sc.DynamoDBTable, files.URI()), nil
}
