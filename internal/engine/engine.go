package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/segment/memtable"
	"github.com/hupe1980/lexgo/model"
)

// segmentState is the writer's record of a registered segment. live is the
// latest in-memory live docs; dirty means it differs from the deletes file
// named by info.
type segmentState struct {
	info  manifest.SegmentCommitInfo
	ref   *SegmentRef
	live  *livedocs.LiveDocs
	dirty bool
}

func (s *segmentState) fullyDeleted() bool {
	return s.live.NumDeleted() >= s.info.DocCount
}

type deleteTerm struct {
	field string
	term  []byte
}

// pendingFlush collects the deletes issued while its buffer is written.
type pendingFlush struct {
	name    string
	deletes []deleteTerm
}

// Engine is the index writer. All methods are safe for concurrent use.
type Engine struct {
	// mu guards the segment list, the buffer and the merge bookkeeping.
	mu sync.Mutex
	// flushMu serializes flushes so segments register in flush order.
	flushMu sync.Mutex

	store   blobstore.BlobStore
	commits *manifest.Store
	deleter *fileDeleter

	infos            *manifest.SegmentInfos // Segments unused; see segments
	segments         []*segmentState
	committedVersion uint64
	buffer           *memtable.Buffer
	flushing         []*pendingFlush
	merges           map[*oneMerge]struct{}
	merging          map[string]bool

	policy           merge.Policy
	compression      *segment.Compression
	ramBufferDocs    int
	verifyChecksums  bool
	blockCache       cache.BlockCache
	commitOnClose    bool
	backgroundMerges bool

	rc       *resource.Controller
	rcConfig resource.Config

	logger  *slog.Logger
	metrics MetricsObserver

	flushCh chan struct{}
	mergeCh chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Open opens the index in store for writing, creating it when the store
// holds no commit. Files no commit references are removed.
func Open(ctx context.Context, store blobstore.BlobStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:            store,
		commits:          manifest.NewStore(store),
		merges:           make(map[*oneMerge]struct{}),
		merging:          make(map[string]bool),
		policy:           merge.DefaultTieredPolicy(),
		ramBufferDocs:    DefaultRAMBufferDocs,
		verifyChecksums:  true,
		commitOnClose:    true,
		backgroundMerges: true,
		rcConfig:         resource.Config{MaxBackgroundWorkers: DefaultMaxConcurrentMerges},
		logger:           slog.New(slog.DiscardHandler),
		metrics:          NoopMetricsObserver{},
		flushCh:          make(chan struct{}, 1),
		mergeCh:          make(chan struct{}, 1),
		closeCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rc == nil {
		e.rc = resource.NewController(e.rcConfig)
	}
	e.deleter = newFileDeleter(store, e.logger)

	infos, err := e.commits.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		infos = manifest.New()
	case err != nil:
		return nil, fmt.Errorf("load commit: %w", err)
	}
	if infos.Generation > 0 {
		e.deleter.checkpoint(ctx, infos.Files(true))
	}

	states, err := e.openSegments(ctx, infos.Segments)
	if err != nil {
		return nil, err
	}
	e.segments = states
	infos.Segments = nil
	e.infos = infos
	e.committedVersion = infos.Version

	if err := e.deleter.sweep(ctx); err != nil {
		e.logger.Warn("sweeping unreferenced files failed", "error", err)
	}

	e.buffer = memtable.New(e.rc)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.wg.Add(2)
	go e.runFlushLoop()
	go e.runMergeLoop()

	e.logger.Info("engine opened", "gen", infos.Generation, "segments", len(states))
	e.signalMerge()
	return e, nil
}

func (e *Engine) readerOptions() []segment.ReaderOption {
	opts := []segment.ReaderOption{segment.WithVerifyChecksums(e.verifyChecksums)}
	if e.blockCache != nil {
		opts = append(opts, segment.WithBlockCache(e.blockCache))
	}
	return opts
}

func (e *Engine) writerOptions() segment.WriterOptions {
	return segment.WriterOptions{
		Compression: e.compression,
		Diagnostics: map[string]string{segment.DiagSource: segment.SourceFlush},
	}
}

// newRef wraps r and holds a deleter reference on its files until the ref
// is released.
func (e *Engine) newRef(r *segment.Reader) *SegmentRef {
	files := slices.Clone(r.Info().Files)
	e.deleter.incRef(files)
	return NewSegmentRef(r, func() {
		e.deleter.decRef(context.Background(), files)
	})
}

func (e *Engine) openSegments(ctx context.Context, infos []manifest.SegmentCommitInfo) ([]*segmentState, error) {
	states := make([]*segmentState, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range infos {
		sci := infos[i]
		g.Go(func() error {
			r, live, err := openCommitted(gctx, e.store, &sci, e.readerOptions())
			if err != nil {
				return err
			}
			states[i] = &segmentState{info: sci.Clone(), ref: e.newRef(r), live: live}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, st := range states {
			if st != nil {
				st.ref.DecRef()
			}
		}
		return nil, err
	}
	return states, nil
}

// AddDocument buffers doc. When the memory limit is reached the buffer is
// flushed and the document added to a fresh one.
func (e *Engine) AddDocument(ctx context.Context, doc *model.Document) error {
	for attempt := 0; ; attempt++ {
		e.mu.Lock()
		if e.closed.Load() {
			e.mu.Unlock()
			return ErrClosed
		}
		_, err := e.buffer.AddDocument(doc)
		n := e.buffer.NumDocs()
		e.mu.Unlock()

		if err == nil {
			if e.ramBufferDocs > 0 && n >= e.ramBufferDocs {
				e.signalFlush()
			}
			return nil
		}
		if !errors.Is(err, resource.ErrMemoryLimitExceeded) || attempt > 0 {
			return err
		}
		if err := e.flush(ctx); err != nil {
			return err
		}
	}
}

// DeleteDocuments deletes every document whose field contains term:
// buffered documents, documents of flushed segments and documents of
// flushes in progress.
func (e *Engine) DeleteDocuments(ctx context.Context, field string, term []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return ErrClosed
	}
	n, err := e.buffer.DeleteTerm(field, term)
	if err != nil {
		return err
	}
	for _, pf := range e.flushing {
		pf.deletes = append(pf.deletes, deleteTerm{field: field, term: bytes.Clone(term)})
	}
	for _, st := range e.segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, err := applyDelete(st, field, term)
		if err != nil {
			return fmt.Errorf("delete in %s: %w", st.info.Name, err)
		}
		n += k
	}
	if n > 0 {
		e.infos.Changed()
		e.metrics.OnDeletes(n)
		e.dropFullyDeleted()
		e.signalMerge()
	}
	return nil
}

// applyDelete marks the documents of st holding term as deleted and
// returns how many were live.
func applyDelete(st *segmentState, field string, term []byte) (int, error) {
	docs, err := matchingDocs(st.ref.Reader(), field, term)
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	live := st.live
	if live == nil {
		live = livedocs.New(st.info.DocCount)
	}
	next := live.WithDeleted(docs...)
	if next == live {
		return 0, nil
	}
	n := next.NumDeleted() - live.NumDeleted()
	st.live = next
	st.dirty = true
	return n, nil
}

func matchingDocs(r *segment.Reader, field string, term []byte) ([]int, error) {
	p, err := r.Postings(field, term)
	if err != nil || p == nil {
		return nil, err
	}
	var docs []int
	for {
		d, err := p.Next()
		if err != nil {
			return nil, err
		}
		if d == model.NoMoreDocs {
			return docs, nil
		}
		docs = append(docs, d)
	}
}

// dropFullyDeleted removes segments without live documents unless they
// are being merged. The caller holds e.mu.
func (e *Engine) dropFullyDeleted() {
	kept := e.segments[:0]
	for _, st := range e.segments {
		if st.fullyDeleted() && !e.merging[st.info.Name] {
			e.logger.Debug("dropping fully deleted segment", "segment", st.info.Name)
			st.ref.DecRef()
			continue
		}
		kept = append(kept, st)
	}
	clear(e.segments[len(kept):])
	if len(kept) != len(e.segments) {
		e.segments = kept
		e.infos.Changed()
	}
}

// Flush writes the buffered documents as a new segment. The segment is
// visible to the next refresh but only durable after Commit. When writing
// fails the buffered documents are dropped.
func (e *Engine) Flush(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.flush(ctx)
}

func (e *Engine) flush(ctx context.Context) (err error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	buf := e.buffer
	if buf.NumDocs() == 0 {
		e.mu.Unlock()
		return nil
	}
	e.buffer = memtable.New(e.rc)
	name := e.infos.NextSegmentName()
	pf := &pendingFlush{name: name}
	e.flushing = append(e.flushing, pf)
	e.mu.Unlock()

	start := time.Now()
	docs := buf.NumDocs() - buf.NumDeleted()
	defer func() {
		e.metrics.OnFlush(time.Since(start), docs, err)
	}()

	info, live, err := buf.Flush(ctx, e.store, name, e.writerOptions())
	buf.Release()
	var r *segment.Reader
	if err == nil && info != nil {
		if r, err = segment.Open(ctx, e.store, info, e.readerOptions()...); err != nil {
			e.deleter.deleteUnreferenced(context.WithoutCancel(ctx), info.Files)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushing = slices.DeleteFunc(e.flushing, func(p *pendingFlush) bool { return p == pf })
	if err != nil {
		e.logger.Error("flush failed", "segment", name, "docs", docs, "error", err)
		return err
	}
	if info == nil {
		e.logger.Debug("flushed buffer was fully deleted", "segment", name)
		return nil
	}

	st := &segmentState{
		info:  manifest.NewSegmentCommitInfo(info),
		ref:   e.newRef(r),
		live:  live,
		dirty: live.HasDeletions(),
	}
	for _, d := range pf.deletes {
		if _, err := applyDelete(st, d.field, d.term); err != nil {
			st.ref.DecRef()
			return fmt.Errorf("replay deletes on %s: %w", name, err)
		}
	}
	if st.fullyDeleted() {
		st.ref.DecRef()
		e.logger.Debug("flushed segment was fully deleted", "segment", name)
		return nil
	}
	e.segments = append(e.segments, st)
	e.infos.Changed()
	e.logger.Info("flushed segment", "segment", name, "docs", info.DocCount, "duration", time.Since(start))
	e.signalMerge()
	return nil
}

// Commit flushes, writes the deletes files of changed segments and
// publishes a new commit. userData replaces the commit user data unless it
// is nil. A commit without changes is skipped.
func (e *Engine) Commit(ctx context.Context, userData map[string]string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.commit(ctx, userData)
}

type liveDocsUpdate struct {
	st    *segmentState
	gen   int64
	count int
	file  string
}

func (e *Engine) commit(ctx context.Context, userData map[string]string) (err error) {
	if err := e.flush(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.infos.Generation > 0 && e.infos.Version == e.committedVersion && userData == nil {
		return nil
	}

	start := time.Now()
	var gen int64
	defer func() {
		e.metrics.OnCommit(time.Since(start), gen, err)
	}()

	var updates []liveDocsUpdate
	discard := func() {
		files := make([]string, len(updates))
		for i, u := range updates {
			files[i] = u.file
		}
		e.deleter.deleteUnreferenced(context.WithoutCancel(ctx), files)
	}
	for _, st := range e.segments {
		if !st.dirty {
			continue
		}
		g := st.info.DelGen + 1
		file, _, err := livedocs.Write(ctx, e.store, st.info.Name, st.info.ID[:], g, st.live)
		if err != nil {
			discard()
			return fmt.Errorf("commit: %w", err)
		}
		updates = append(updates, liveDocsUpdate{st: st, gen: g, count: st.live.NumDeleted(), file: file})
	}

	next := e.infos.Clone()
	if userData != nil {
		next.UserData = maps.Clone(userData)
	}
	next.Segments = make([]manifest.SegmentCommitInfo, 0, len(e.segments))
	for _, st := range e.segments {
		sci := st.info.Clone()
		for _, u := range updates {
			if u.st == st {
				sci.DelGen, sci.DelCount = u.gen, u.count
			}
		}
		next.Segments = append(next.Segments, sci)
	}
	if err := e.commits.Save(ctx, next); err != nil {
		discard()
		e.logger.Error("commit failed", "gen", next.Generation+1, "error", err)
		return fmt.Errorf("commit: %w", err)
	}

	for _, u := range updates {
		u.st.info.DelGen, u.st.info.DelCount = u.gen, u.count
		u.st.dirty = false
	}
	gen = next.Generation
	e.infos.Generation = next.Generation
	e.infos.CreatedAt = next.CreatedAt
	e.infos.UserData = next.UserData
	e.infos.Changed()
	e.committedVersion = e.infos.Version
	e.deleter.checkpoint(ctx, next.Files(true))

	e.logger.Info("committed", "gen", gen, "segments", len(next.Segments),
		"docs", next.TotalDocs()-next.TotalDeleted(), "duration", time.Since(start))
	e.signalMerge()
	return nil
}

// NewView implements RefreshSource. It flushes the buffer and returns a view
// of every registered segment with its latest live docs.
func (e *Engine) NewView(ctx context.Context, current *View) (*View, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := e.flush(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if current != nil && current.Version() >= e.infos.Version {
		return nil, nil
	}
	segs := make([]SegmentView, len(e.segments))
	for i, st := range e.segments {
		st.ref.IncRef()
		segs[i] = SegmentView{Ref: st.ref, LiveDocs: st.live, DelGen: st.info.DelGen}
	}
	return newView(segs, e.infos.Version, e.infos.Generation), nil
}

// Stats holds engine statistics.
type Stats struct {
	Segments      int
	Docs          int
	DeletedDocs   int
	BufferedDocs  int
	SizeBytes     int64
	Generation    int64
	Version       uint64
	MergesRunning int
	// UserData is the user data of the last commit.
	UserData      map[string]string
}

// Stats returns the current engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Segments:      len(e.segments),
		Generation:    e.infos.Generation,
		Version:       e.infos.Version,
		MergesRunning: len(e.merges),
		UserData:      maps.Clone(e.infos.UserData),
	}
	if e.buffer != nil {
		s.BufferedDocs = e.buffer.NumDocs() - e.buffer.NumDeleted()
	}
	for _, st := range e.segments {
		del := st.live.NumDeleted()
		s.Docs += st.info.DocCount - del
		s.DeletedDocs += del
		s.SizeBytes += st.info.SizeBytes
	}
	return s
}

// Close aborts running merges, commits when configured to, and releases
// the writer's segments. Views obtained earlier stay valid.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(e.closeCh)

	e.mu.Lock()
	for om := range e.merges {
		om.aborted.Store(true)
	}
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()

	var err error
	if e.commitOnClose {
		err = e.commit(context.Background(), nil)
	}

	e.mu.Lock()
	for _, st := range e.segments {
		st.ref.DecRef()
	}
	e.segments = nil
	e.buffer.Release()
	e.mu.Unlock()

	e.logger.Info("engine closed", "gen", e.infos.Generation)
	return err
}

func (e *Engine) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

func (e *Engine) runFlushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case <-e.flushCh:
			if err := e.flush(e.ctx); err != nil {
				e.logger.Error("background flush failed", "error", err)
			}
		}
	}
}
