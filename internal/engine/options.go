package engine

import (
	"log/slog"

	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
)

// Defaults.
const (
	DefaultRAMBufferDocs       = 10000
	DefaultMaxConcurrentMerges = 1
)

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(e *Engine) {
		if observer != nil {
			e.metrics = observer
		}
	}
}

// WithMergePolicy sets the policy used by the merge scheduler. If unset,
// the engine uses merge.DefaultTieredPolicy.
func WithMergePolicy(p merge.Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithCompression sets the stored-field compression of new segments.
func WithCompression(c segment.Compression) Option {
	return func(e *Engine) {
		e.compression = &c
	}
}

// WithRAMBufferDocs sets the number of buffered documents that triggers a
// background flush. 0 disables document-count flushes.
func WithRAMBufferDocs(n int) Option {
	return func(e *Engine) {
		e.ramBufferDocs = n
	}
}

// WithResourceController sets the resource controller for the engine. It
// overrides WithMemoryLimit, WithMaxConcurrentMerges and WithMergeIORate.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.rc = rc
	}
}

// WithMemoryLimit bounds the memory of the indexing buffer. Reaching it
// forces a flush. 0 is unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(e *Engine) {
		e.rcConfig.MemoryLimitBytes = bytes
	}
}

// WithMaxConcurrentMerges bounds the merges running at the same time.
func WithMaxConcurrentMerges(n int) Option {
	return func(e *Engine) {
		e.rcConfig.MaxBackgroundWorkers = int64(n)
	}
}

// WithMergeIORate throttles merge output to bytesPerSec. 0 is unlimited.
func WithMergeIORate(bytesPerSec int64) Option {
	return func(e *Engine) {
		e.rcConfig.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithVerifyChecksums controls full checksum verification when segments
// are opened. Enabled by default.
func WithVerifyChecksums(verify bool) Option {
	return func(e *Engine) {
		e.verifyChecksums = verify
	}
}

// WithBlockCache caches decompressed stored-field blocks.
func WithBlockCache(c cache.BlockCache) Option {
	return func(e *Engine) {
		e.blockCache = c
	}
}

// WithCommitOnClose controls whether Close commits pending changes.
// Enabled by default.
func WithCommitOnClose(commit bool) Option {
	return func(e *Engine) {
		e.commitOnClose = commit
	}
}

// WithBackgroundMerges enables or disables the merge scheduler. Explicit
// ForceMerge calls work either way. Enabled by default.
func WithBackgroundMerges(enabled bool) Option {
	return func(e *Engine) {
		e.backgroundMerges = enabled
	}
}
