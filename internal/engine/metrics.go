package engine

import "time"

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnFlush is called when a flush completes.
	OnFlush(duration time.Duration, docs int, err error)

	// OnMerge is called when a merge completes, aborted merges included.
	OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error)

	// OnCommit is called when a commit completes.
	OnCommit(duration time.Duration, generation int64, err error)

	// OnRefresh is called after a reader manager refresh attempt.
	OnRefresh(duration time.Duration, refreshed bool, err error)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int)

	// OnDeletes reports the number of documents a delete removed.
	OnDeletes(count int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnFlush(time.Duration, int, error)      {}
func (NoopMetricsObserver) OnMerge(time.Duration, int, int, error) {}
func (NoopMetricsObserver) OnCommit(time.Duration, int64, error)   {}
func (NoopMetricsObserver) OnRefresh(time.Duration, bool, error)   {}
func (NoopMetricsObserver) OnQueueDepth(string, int)               {}
func (NoopMetricsObserver) OnDeletes(int)                          {}
