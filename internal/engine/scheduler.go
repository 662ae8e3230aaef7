package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
)

// oneMerge is a registered merge. The writer holds a reference on every
// input until the merge finishes, and lives is the snapshot of live docs
// the merge reads.
type oneMerge struct {
	spec    *merge.Spec
	name    string
	inputs  []*segmentState
	refs    []*SegmentRef
	lives   []*livedocs.LiveDocs
	aborted atomic.Bool
	done    chan struct{}
	err     error
}

func (e *Engine) signalMerge() {
	if !e.backgroundMerges {
		return
	}
	select {
	case e.mergeCh <- struct{}{}:
	default:
	}
}

func (e *Engine) runMergeLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case <-e.mergeCh:
			e.maybeMerge(e.ctx)
			e.mu.Lock()
			depth := len(e.merges)
			e.mu.Unlock()
			e.metrics.OnQueueDepth("merge_queue", depth)
		}
	}
}

// segmentStats describes the registered segments to the merge policy. The
// caller holds e.mu.
func (e *Engine) segmentStats() []merge.SegmentStats {
	stats := make([]merge.SegmentStats, len(e.segments))
	for i, st := range e.segments {
		stats[i] = merge.SegmentStats{
			Name:      st.info.Name,
			SizeBytes: st.info.SizeBytes,
			DocCount:  st.info.DocCount,
			DelCount:  st.live.NumDeleted(),
			Order:     i,
		}
	}
	return stats
}

// maybeMerge starts natural merges while the policy finds some and merge
// slots are free.
func (e *Engine) maybeMerge(ctx context.Context) {
	for {
		e.mu.Lock()
		if e.closed.Load() {
			e.mu.Unlock()
			return
		}
		spec := e.policy.FindMerge(e.segmentStats(), e.merging)
		if spec == nil {
			e.mu.Unlock()
			return
		}
		if !e.rc.TryAcquireBackground() {
			e.mu.Unlock()
			e.logger.Debug("merge deferred, no free slot", "merge", spec.String())
			return
		}
		om, err := e.registerMerge(spec)
		e.mu.Unlock()
		if err != nil {
			e.rc.ReleaseBackground()
			e.logger.Warn("merge not registered", "merge", spec.String(), "error", err)
			return
		}
		go func() {
			defer e.wg.Done()
			defer e.rc.ReleaseBackground()
			_ = e.runMerge(ctx, om)
			e.signalMerge()
		}()
	}
}

// registerMerge reserves the inputs of spec. The caller holds e.mu and must
// run the merge, which calls e.wg.Done.
func (e *Engine) registerMerge(spec *merge.Spec) (*oneMerge, error) {
	om := &oneMerge{spec: spec, done: make(chan struct{})}
	for _, name := range spec.Segments {
		i := slices.IndexFunc(e.segments, func(st *segmentState) bool { return st.info.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: segment %s not registered", ErrInvalidArgument, name)
		}
		if e.merging[name] {
			return nil, fmt.Errorf("%w: segment %s already merging", ErrInvalidArgument, name)
		}
		om.inputs = append(om.inputs, e.segments[i])
	}
	om.name = e.infos.NextSegmentName()
	for _, st := range om.inputs {
		st.ref.IncRef()
		om.refs = append(om.refs, st.ref)
		om.lives = append(om.lives, st.live)
		e.merging[st.info.Name] = true
	}
	e.merges[om] = struct{}{}
	e.wg.Add(1)
	return om, nil
}

func (e *Engine) runMerge(ctx context.Context, om *oneMerge) (err error) {
	start := time.Now()
	outputDocs := 0
	defer func() {
		e.finishMerge(om, err)
		e.metrics.OnMerge(time.Since(start), len(om.inputs), outputDocs, err)
		switch {
		case err == nil:
			e.logger.Info("merge finished", "merge", om.spec.String(), "segment", om.name,
				"docs", outputDocs, "duration", time.Since(start))
		case errors.Is(err, ErrMergeAborted):
			e.logger.Debug("merge aborted", "merge", om.spec.String(), "error", err)
		default:
			e.logger.Error("merge failed", "merge", om.spec.String(), "error", err)
		}
	}()
	e.logger.Info("merge started", "merge", om.spec.String(), "segment", om.name, "bytes", om.spec.Bytes)

	sources := make([]merge.Source, len(om.refs))
	for i, ref := range om.refs {
		sources[i] = merge.Source{Reader: ref.Reader(), LiveDocs: om.lives[i]}
	}
	opts := e.writerOptions()
	opts.Wrap = func(w io.Writer) io.Writer { return resource.NewRateLimitedWriter(ctx, w, e.rc) }

	m := &merge.Merger{Aborted: om.aborted.Load, Logger: e.logger}
	res, err := m.Merge(ctx, sources, merge.Output{Store: e.store, Name: om.name, Options: opts})
	if err != nil {
		return err
	}
	outputDocs = res.NumDocs

	var r *segment.Reader
	if res.Info != nil {
		r, err = segment.Open(ctx, e.store, res.Info, e.readerOptions()...)
		if err != nil {
			e.deleter.deleteUnreferenced(context.WithoutCancel(ctx), res.Info.Files)
			return fmt.Errorf("open merged segment %s: %w", om.name, err)
		}
	}
	return e.commitMerge(om, res, r)
}

// commitMerge swaps the inputs of om for its output. Deletes applied to the
// inputs while the merge ran are carried over through the doc maps.
func (e *Engine) commitMerge(om *oneMerge, res *merge.Result, r *segment.Reader) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	discard := func(reason string) error {
		if r != nil {
			files := r.Info().Files
			_ = r.Close()
			e.deleter.deleteUnreferenced(context.Background(), files)
		}
		return fmt.Errorf("%w: %s", ErrMergeAborted, reason)
	}
	if om.aborted.Load() {
		return discard("aborted before commit")
	}
	pos := -1
	for _, in := range om.inputs {
		i := slices.Index(e.segments, in)
		if i < 0 {
			return discard("input " + in.info.Name + " dropped")
		}
		if pos < 0 || i < pos {
			pos = i
		}
	}

	var st *segmentState
	if r != nil {
		var carried *roaring.Bitmap
		for i, in := range om.inputs {
			newly := in.live.NewlyDeleted(om.lives[i])
			if newly == nil || newly.IsEmpty() {
				continue
			}
			it := newly.Iterator()
			for it.HasNext() {
				if d := res.DocMaps[i].Get(int(it.Next())); d >= 0 {
					if carried == nil {
						carried = roaring.New()
					}
					carried.Add(uint32(d))
				}
			}
		}
		st = &segmentState{info: manifest.NewSegmentCommitInfo(r.Info()), ref: e.newRef(r)}
		if carried != nil {
			st.live = livedocs.New(r.MaxDoc()).WithDeletedBitmap(carried)
			st.dirty = true
		}
		if st.fullyDeleted() {
			st.ref.DecRef()
			st = nil
		}
	}

	next := make([]*segmentState, 0, len(e.segments))
	for i, cur := range e.segments {
		if i == pos && st != nil {
			next = append(next, st)
		}
		if slices.Contains(om.inputs, cur) {
			cur.ref.DecRef()
			continue
		}
		next = append(next, cur)
	}
	e.segments = next
	e.infos.Changed()
	return nil
}

// finishMerge releases the reservations of om.
func (e *Engine) finishMerge(om *oneMerge, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range om.inputs {
		delete(e.merging, st.info.Name)
	}
	delete(e.merges, om)
	for _, ref := range om.refs {
		ref.DecRef()
	}
	om.err = err
	close(om.done)
	e.dropFullyDeleted()
}

// ForceMerge merges until at most maxSegments segments remain. It waits for
// the merges it starts and for running natural merges.
func (e *Engine) ForceMerge(ctx context.Context, maxSegments int) error {
	if maxSegments < 1 {
		return fmt.Errorf("%w: maxSegments must be at least 1, got %d", ErrInvalidArgument, maxSegments)
	}
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.flush(ctx); err != nil {
		return err
	}
	for {
		e.mu.Lock()
		if e.closed.Load() {
			e.mu.Unlock()
			return ErrClosed
		}
		specs := e.policy.FindForcedMerges(e.segmentStats(), maxSegments, e.merging)
		if len(specs) == 0 {
			running := e.runningLocked()
			e.mu.Unlock()
			if len(running) == 0 {
				return nil
			}
			if err := waitMerges(ctx, running); err != nil {
				return err
			}
			continue
		}
		var started []*oneMerge
		var regErr error
		for _, spec := range specs {
			om, err := e.registerMerge(spec)
			if err != nil {
				regErr = err
				break
			}
			started = append(started, om)
		}
		e.mu.Unlock()

		for _, om := range started {
			go func() {
				defer e.wg.Done()
				if err := e.rc.AcquireBackground(ctx); err != nil {
					e.finishMerge(om, err)
					return
				}
				defer e.rc.ReleaseBackground()
				_ = e.runMerge(ctx, om)
			}()
		}
		if err := waitMerges(ctx, started); err != nil {
			return err
		}
		for _, om := range started {
			if om.err != nil && !errors.Is(om.err, ErrMergeAborted) {
				return om.err
			}
		}
		if regErr != nil {
			return regErr
		}
		if e.closed.Load() {
			return ErrClosed
		}
	}
}

// WaitForMerges blocks until no merge is running and the policy finds no
// further natural merge.
func (e *Engine) WaitForMerges(ctx context.Context) error {
	for {
		if e.closed.Load() {
			return ErrClosed
		}
		if e.backgroundMerges {
			e.maybeMerge(e.ctx)
		}
		e.mu.Lock()
		running := e.runningLocked()
		e.mu.Unlock()
		if len(running) == 0 {
			return nil
		}
		if err := waitMerges(ctx, running); err != nil {
			return err
		}
	}
}

func (e *Engine) runningLocked() []*oneMerge {
	running := make([]*oneMerge, 0, len(e.merges))
	for om := range e.merges {
		running = append(running, om)
	}
	return running
}

func waitMerges(ctx context.Context, merges []*oneMerge) error {
	for _, om := range merges {
		select {
		case <-om.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
