package lexgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
)

type (
	// View is a point-in-time, reference-counted set of segments. Obtain one
	// with Acquire and give it back with Release.
	View = engine.View
	// SegmentView is one segment of a View.
	SegmentView = engine.SegmentView
	// Postings iterates the documents of a term across a View.
	Postings = engine.Postings
	// TermsIterator walks the terms of a field in byte order.
	TermsIterator = engine.TermsIterator
	// Stats describes the writer's segments and buffer.
	Stats = engine.Stats

	// MergePolicy selects the segments to merge.
	MergePolicy = merge.Policy
	// TieredPolicy merges segments of similar size.
	TieredPolicy = merge.TieredPolicy
	// TieBreak orders equally eligible merge candidates.
	TieBreak = merge.TieBreak

	// Compression is the block compression of stored fields.
	Compression = segment.Compression

	// BlockCache caches blocks of blob data or decompressed stored fields.
	BlockCache = cache.BlockCache
)

const (
	TieBreakSmallestFirst = merge.TieBreakSmallestFirst
	TieBreakOldestFirst   = merge.TieBreakOldestFirst

	CompressionNone   = segment.CompressionNone
	CompressionLZ4    = segment.CompressionLZ4
	CompressionZstd   = segment.CompressionZstd
	CompressionSnappy = segment.CompressionSnappy
)

// DefaultTieredPolicy returns the default merge policy.
func DefaultTieredPolicy() *TieredPolicy { return merge.DefaultTieredPolicy() }

// NewLRUBlockCache returns an in-memory block cache bounded to
// capacityBytes, for WithBlockCache or blobstore.NewCachingStore.
func NewLRUBlockCache(capacityBytes int64) BlockCache {
	return cache.NewShardedLRUBlockCache(capacityBytes, nil)
}

// Index is a writable index with a shared near-real-time view. It is safe
// for concurrent use. Only one Index may write to a store at a time.
type Index struct {
	engine    *engine.Engine
	manager   *engine.Manager
	refresher *refresher
	logger    *Logger
	closed    atomic.Bool
}

// Open opens the index in store, creating an empty one if the store holds
// no commit. Files not referenced by the last commit are removed.
func Open(ctx context.Context, store blobstore.BlobStore, opts ...Option) (*Index, error) {
	o := applyOptions(opts)

	eng, err := engine.Open(ctx, store, o.engineOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	mgr, err := engine.NewManager(ctx, eng, o.managerOptions()...)
	if err != nil {
		_ = eng.Close()
		return nil, translateError(err)
	}
	idx := &Index{engine: eng, manager: mgr, logger: o.logger}
	if o.refreshInterval > 0 {
		idx.refresher = startRefresher(mgr, o.refreshInterval, o.logger)
	}
	return idx, nil
}

// AddDocument buffers doc. It becomes searchable after the next flush and
// refresh, and durable after the next commit.
func (idx *Index) AddDocument(ctx context.Context, doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidArgument)
	}
	return translateError(idx.engine.AddDocument(ctx, doc))
}

// DeleteDocuments deletes every document whose field contains term,
// including buffered documents.
func (idx *Index) DeleteDocuments(ctx context.Context, field string, term []byte) error {
	return translateError(idx.engine.DeleteDocuments(ctx, field, term))
}

// UpdateDocument deletes the documents whose field contains term and adds
// doc. Readers may briefly see neither version.
func (idx *Index) UpdateDocument(ctx context.Context, field string, term []byte, doc *model.Document) error {
	if err := idx.DeleteDocuments(ctx, field, term); err != nil {
		return err
	}
	return idx.AddDocument(ctx, doc)
}

// Flush writes buffered documents as a new segment.
func (idx *Index) Flush(ctx context.Context) error {
	return translateError(idx.engine.Flush(ctx))
}

// Commit flushes and durably publishes a new generation carrying userData.
// It returns ErrConcurrentModification when the store detected another
// writer's commit.
func (idx *Index) Commit(ctx context.Context, userData map[string]string) error {
	return translateError(idx.engine.Commit(ctx, userData))
}

// Refresh makes flushed and merged segments visible to Acquire. It returns
// false without waiting when another refresh is running.
func (idx *Index) Refresh(ctx context.Context) (bool, error) {
	ok, err := idx.manager.MaybeRefresh(ctx)
	return ok, translateError(err)
}

// RefreshBlocking waits for a running refresh and then refreshes.
func (idx *Index) RefreshBlocking(ctx context.Context) error {
	return translateError(idx.manager.MaybeRefreshBlocking(ctx))
}

// AddRefreshListener registers fn to run after every refresh.
func (idx *Index) AddRefreshListener(fn func(refreshed bool)) {
	idx.manager.AddListener(fn)
}

// Acquire returns the current view. The caller must Release it.
func (idx *Index) Acquire() (*View, error) {
	v, err := idx.manager.Acquire()
	return v, translateError(err)
}

// Release gives back a view obtained from Acquire.
func (idx *Index) Release(v *View) {
	idx.manager.Release(v)
}

// ForceMerge merges until at most maxSegments segments remain.
func (idx *Index) ForceMerge(ctx context.Context, maxSegments int) error {
	return translateError(idx.engine.ForceMerge(ctx, maxSegments))
}

// WaitForMerges blocks until no merge is running or pending.
func (idx *Index) WaitForMerges(ctx context.Context) error {
	return translateError(idx.engine.WaitForMerges(ctx))
}

// Stats returns writer statistics.
func (idx *Index) Stats() Stats {
	return idx.engine.Stats()
}

// Close stops background work, commits unless disabled with
// WithCommitOnClose(false), and releases the writer. Views still held by
// readers stay valid until released.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if idx.refresher != nil {
		idx.refresher.stop()
	}
	mErr := idx.manager.Close()
	eErr := idx.engine.Close()
	if err := errors.Join(eErr, mErr); err != nil {
		return translateError(err)
	}
	idx.logger.Debug("index closed")
	return nil
}

// CommitInfo describes a commit point.
type CommitInfo struct {
	Generation int64
	Segments   int
	Docs       int
	UserData   map[string]string
}

// ReadCommit describes the last commit in store without opening its
// segments. It returns ErrNotFound when the store holds none.
func ReadCommit(ctx context.Context, store blobstore.BlobStore) (*CommitInfo, error) {
	infos, err := manifest.NewStore(store).Load(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return &CommitInfo{
		Generation: infos.Generation,
		Segments:   len(infos.Segments),
		Docs:       infos.TotalDocs() - infos.TotalDeleted(),
		UserData:   infos.UserData,
	}, nil
}

// Reader follows the commits of an index without writing to it.
type Reader struct {
	manager   *engine.Manager
	refresher *refresher
	closed    atomic.Bool
}

// OpenReader opens the last commit in store. It returns ErrNotFound when
// the store holds none.
func OpenReader(ctx context.Context, store blobstore.BlobStore, opts ...Option) (*Reader, error) {
	o := applyOptions(opts)
	src := engine.NewDirectorySource(store,
		engine.WithSourceLogger(o.logger.Logger),
		engine.WithSourceReaderOptions(o.readerOptions()...),
	)
	mgr, err := engine.NewManager(ctx, src, o.managerOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	r := &Reader{manager: mgr}
	if o.refreshInterval > 0 {
		r.refresher = startRefresher(mgr, o.refreshInterval, o.logger)
	}
	return r, nil
}

// Acquire returns the view of the newest loaded commit. The caller must
// Release it.
func (r *Reader) Acquire() (*View, error) {
	v, err := r.manager.Acquire()
	return v, translateError(err)
}

// Release gives back a view obtained from Acquire.
func (r *Reader) Release(v *View) {
	r.manager.Release(v)
}

// Refresh loads a newer commit if there is one. It returns false without
// waiting when another refresh is running.
func (r *Reader) Refresh(ctx context.Context) (bool, error) {
	ok, err := r.manager.MaybeRefresh(ctx)
	return ok, translateError(err)
}

// RefreshBlocking waits for a running refresh and then refreshes.
func (r *Reader) RefreshBlocking(ctx context.Context) error {
	return translateError(r.manager.MaybeRefreshBlocking(ctx))
}

// AddRefreshListener registers fn to run after every refresh.
func (r *Reader) AddRefreshListener(fn func(refreshed bool)) {
	r.manager.AddListener(fn)
}

// Close releases the reader's view. Acquired views stay valid until
// released.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if r.refresher != nil {
		r.refresher.stop()
	}
	return translateError(r.manager.Close())
}

// refresher refreshes a manager on a fixed interval.
type refresher struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startRefresher(m *engine.Manager, interval time.Duration, logger *Logger) *refresher {
	ctx, cancel := context.WithCancel(context.Background())
	r := &refresher{cancel: cancel}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.MaybeRefresh(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("background refresh failed", "error", err)
				}
			}
		}
	}()
	return r
}

func (r *refresher) stop() {
	r.cancel()
	r.wg.Wait()
}
