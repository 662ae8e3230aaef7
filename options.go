package lexgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/segment"
)

type options struct {
	logger          *Logger
	metrics         MetricsObserver
	engine          []engine.Option
	verifyChecksums bool
	blockCache      BlockCache
	refreshInterval time.Duration
}

// Option configures Open and OpenReader. Options that only affect writing
// are ignored by OpenReader.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := lexgo.NewJSONLogger(slog.LevelInfo)
//	idx, _ := lexgo.Open(ctx, store, lexgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsObserver reports flushes, merges, commits, refreshes and
// deletes to observer.
//
// Example with BasicMetricsObserver:
//
//	metrics := &lexgo.BasicMetricsObserver{}
//	idx, _ := lexgo.Open(ctx, store, lexgo.WithMetricsObserver(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("flushes: %d, avg: %dns\n", stats.FlushCount, stats.FlushAvgNanos)
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(o *options) {
		if observer == nil {
			observer = NoopMetricsObserver{}
		}
		o.metrics = observer
	}
}

// WithMergePolicy replaces DefaultTieredPolicy.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithMergePolicy(p))
	}
}

// WithCompression sets the stored-field compression of new segments.
// Defaults to CompressionLZ4.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithCompression(c))
	}
}

// WithRAMBufferDocs flushes in the background once n documents are
// buffered. 0 disables count-triggered flushes.
func WithRAMBufferDocs(n int) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithRAMBufferDocs(n))
	}
}

// WithMemoryLimit bounds the memory of buffered documents. Reaching the
// limit flushes synchronously. 0 is unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithMemoryLimit(bytes))
	}
}

// WithMaxConcurrentMerges bounds the merges running at once. Defaults to 1.
func WithMaxConcurrentMerges(n int) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithMaxConcurrentMerges(n))
	}
}

// WithMergeIORate throttles merge writes to bytesPerSec. 0 is unlimited.
func WithMergeIORate(bytesPerSec int64) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithMergeIORate(bytesPerSec))
	}
}

// WithBackgroundMerges enables or disables natural merges. ForceMerge
// works either way.
func WithBackgroundMerges(enabled bool) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithBackgroundMerges(enabled))
	}
}

// WithCommitOnClose controls whether Close commits pending changes.
// Enabled by default.
func WithCommitOnClose(commit bool) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithCommitOnClose(commit))
	}
}

// WithVerifyChecksums verifies whole-file checksums when segments are
// opened. Enabled by default.
func WithVerifyChecksums(verify bool) Option {
	return func(o *options) {
		o.verifyChecksums = verify
	}
}

// WithBlockCache caches decompressed stored-field blocks across views.
func WithBlockCache(c BlockCache) Option {
	return func(o *options) {
		o.blockCache = c
	}
}

// WithRefreshInterval refreshes the shared view every d in the background.
// 0 leaves refreshing to the caller.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		o.refreshInterval = d
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:          NoopLogger(),
		metrics:         NoopMetricsObserver{},
		verifyChecksums: true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
		engine.WithMetricsObserver(o.metrics),
		engine.WithVerifyChecksums(o.verifyChecksums),
	}
	if o.blockCache != nil {
		opts = append(opts, engine.WithBlockCache(o.blockCache))
	}
	return append(opts, o.engine...)
}

func (o options) managerOptions() []engine.ManagerOption {
	return []engine.ManagerOption{
		engine.WithManagerLogger(o.logger.Logger),
		engine.WithManagerMetrics(o.metrics),
	}
}

func (o options) readerOptions() []segment.ReaderOption {
	opts := []segment.ReaderOption{segment.WithVerifyChecksums(o.verifyChecksums)}
	if o.blockCache != nil {
		opts = append(opts, segment.WithBlockCache(o.blockCache))
	}
	return opts
}
