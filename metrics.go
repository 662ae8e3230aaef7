package lexgo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/lexgo/internal/engine"
)

// MetricsObserver receives index events. Implementations must be safe for
// concurrent use and must not block.
//
// Example integration:
//
//	reg := prometheus.NewRegistry()
//	idx, err := lexgo.Open(ctx, store, lexgo.WithMetricsObserver(lexgo.NewPrometheusObserver(reg)))
type MetricsObserver = engine.MetricsObserver

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver = engine.NoopMetricsObserver

// BasicMetricsObserver counts events in memory.
// Useful for debugging and tests without external dependencies.
type BasicMetricsObserver struct {
	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	FlushedDocs     atomic.Int64
	FlushTotalNanos atomic.Int64
	MergeCount      atomic.Int64
	MergeErrors     atomic.Int64
	MergedSegments  atomic.Int64
	MergeTotalNanos atomic.Int64
	CommitCount     atomic.Int64
	CommitErrors    atomic.Int64
	LastGeneration  atomic.Int64
	RefreshCount    atomic.Int64
	RefreshSwaps    atomic.Int64
	RefreshErrors   atomic.Int64
	DeletedDocs     atomic.Int64

	depthMu sync.Mutex
	depths  map[string]int
}

var _ MetricsObserver = (*BasicMetricsObserver)(nil)

// OnFlush implements MetricsObserver.
func (b *BasicMetricsObserver) OnFlush(duration time.Duration, docs int, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushedDocs.Add(int64(docs))
}

// OnMerge implements MetricsObserver.
func (b *BasicMetricsObserver) OnMerge(duration time.Duration, inputSegments, _ int, err error) {
	b.MergeCount.Add(1)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergedSegments.Add(int64(inputSegments))
}

// OnCommit implements MetricsObserver.
func (b *BasicMetricsObserver) OnCommit(_ time.Duration, generation int64, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.LastGeneration.Store(generation)
}

// OnRefresh implements MetricsObserver.
func (b *BasicMetricsObserver) OnRefresh(_ time.Duration, refreshed bool, err error) {
	b.RefreshCount.Add(1)
	switch {
	case err != nil:
		b.RefreshErrors.Add(1)
	case refreshed:
		b.RefreshSwaps.Add(1)
	}
}

// OnQueueDepth implements MetricsObserver.
func (b *BasicMetricsObserver) OnQueueDepth(name string, depth int) {
	b.depthMu.Lock()
	defer b.depthMu.Unlock()
	if b.depths == nil {
		b.depths = make(map[string]int)
	}
	b.depths[name] = depth
}

// OnDeletes implements MetricsObserver.
func (b *BasicMetricsObserver) OnDeletes(count int) {
	b.DeletedDocs.Add(int64(count))
}

// QueueDepth returns the last reported depth of the named queue.
func (b *BasicMetricsObserver) QueueDepth(name string) int {
	b.depthMu.Lock()
	defer b.depthMu.Unlock()
	return b.depths[name]
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FlushCount:     b.FlushCount.Load(),
		FlushErrors:    b.FlushErrors.Load(),
		FlushedDocs:    b.FlushedDocs.Load(),
		FlushAvgNanos:  avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		MergeCount:     b.MergeCount.Load(),
		MergeErrors:    b.MergeErrors.Load(),
		MergedSegments: b.MergedSegments.Load(),
		MergeAvgNanos:  avg(b.MergeTotalNanos.Load(), b.MergeCount.Load()),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		LastGeneration: b.LastGeneration.Load(),
		RefreshCount:   b.RefreshCount.Load(),
		RefreshSwaps:   b.RefreshSwaps.Load(),
		RefreshErrors:  b.RefreshErrors.Load(),
		DeletedDocs:    b.DeletedDocs.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	FlushCount     int64
	FlushErrors    int64
	FlushedDocs    int64
	FlushAvgNanos  int64
	MergeCount     int64
	MergeErrors    int64
	MergedSegments int64
	MergeAvgNanos  int64
	CommitCount    int64
	CommitErrors   int64
	LastGeneration int64
	RefreshCount   int64
	RefreshSwaps   int64
	RefreshErrors  int64
	DeletedDocs    int64
}
