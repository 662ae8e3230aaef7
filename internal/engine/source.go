package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/segment"
)

// openCommitted opens the segment described by a commit entry and its
// current deletes file.
func openCommitted(ctx context.Context, store blobstore.BlobStore, sci *manifest.SegmentCommitInfo, opts []segment.ReaderOption) (*segment.Reader, *livedocs.LiveDocs, error) {
	info, err := segment.ReadInfo(ctx, store, sci.Name)
	if err != nil {
		return nil, nil, err
	}
	if info.ID != sci.ID {
		return nil, nil, codec.Corruptf(segment.FileName(sci.Name, segment.ExtInfo),
			"segment id %s does not match commit id %s", info.ID, sci.ID)
	}
	r, err := segment.Open(ctx, store, info, opts...)
	if err != nil {
		return nil, nil, err
	}
	live, err := loadLiveDocs(ctx, store, sci)
	if err != nil {
		_ = r.Close()
		return nil, nil, err
	}
	return r, live, nil
}

func loadLiveDocs(ctx context.Context, store blobstore.BlobStore, sci *manifest.SegmentCommitInfo) (*livedocs.LiveDocs, error) {
	if sci.DelGen == 0 {
		return nil, nil
	}
	return livedocs.Read(ctx, store, sci.Name, sci.ID[:], sci.DelGen, sci.DocCount)
}

// DirectorySourceOption configures a DirectorySource.
type DirectorySourceOption func(*DirectorySource)

// WithSourceLogger sets the logger of the source.
func WithSourceLogger(l *slog.Logger) DirectorySourceOption {
	return func(s *DirectorySource) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSourceReaderOptions sets the options segments are opened with.
func WithSourceReaderOptions(opts ...segment.ReaderOption) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.readerOpts = opts
	}
}

// DirectorySource builds views from the latest commit in a store. Segments
// unchanged since the current view are shared with it.
type DirectorySource struct {
	store      blobstore.BlobStore
	commits    *manifest.Store
	readerOpts []segment.ReaderOption
	logger     *slog.Logger
}

// NewDirectorySource returns a source reading commits from store.
func NewDirectorySource(store blobstore.BlobStore, opts ...DirectorySourceOption) *DirectorySource {
	s := &DirectorySource{
		store:   store,
		commits: manifest.NewStore(store),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// maxOpenAttempts bounds how often NewView restarts when a writer removes
// the files of the commit being opened.
const maxOpenAttempts = 10

// NewView implements RefreshSource. It returns nil when the latest commit is
// the one current was built from. When files of the commit vanish while it
// is opened, a newer commit replaced it and NewView starts over from that
// one. The same generation failing twice is reported as an error.
func (s *DirectorySource) NewView(ctx context.Context, current *View) (*View, error) {
	var lastGen int64
	for attempt := 1; ; attempt++ {
		v, gen, err := s.openLatest(ctx, current)
		if err == nil || !errors.Is(err, blobstore.ErrNotFound) || attempt == maxOpenAttempts {
			return v, err
		}
		if gen > 0 && gen == lastGen {
			return nil, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		s.logger.Debug("commit files removed while opening, retrying", "gen", gen, "attempt", attempt, "error", err)
		lastGen = gen
	}
}

// openLatest opens the latest commit. The returned generation is the one
// attempted, 0 when the manifest could not be loaded.
func (s *DirectorySource) openLatest(ctx context.Context, current *View) (*View, int64, error) {
	infos, err := s.commits.Load(ctx)
	if err != nil {
		return nil, 0, err
	}
	if current != nil && current.Generation() == infos.Generation {
		return nil, infos.Generation, nil
	}

	byName := make(map[string]SegmentView)
	if current != nil {
		for _, sv := range current.Segments() {
			byName[sv.Ref.Name()] = sv
		}
	}

	segs := make([]SegmentView, len(infos.Segments))
	release := func() {
		for _, sv := range segs {
			if sv.Ref != nil {
				sv.Ref.DecRef()
			}
		}
	}

	var toOpen []int
	for i := range infos.Segments {
		sci := &infos.Segments[i]
		old, ok := byName[sci.Name]
		if !ok || old.Ref.ID() != sci.ID || !old.Ref.TryIncRef() {
			toOpen = append(toOpen, i)
			continue
		}
		segs[i] = SegmentView{Ref: old.Ref, LiveDocs: old.LiveDocs, DelGen: old.DelGen}
		if old.DelGen != sci.DelGen {
			live, err := loadLiveDocs(ctx, s.store, sci)
			if err != nil {
				release()
				return nil, infos.Generation, err
			}
			segs[i].LiveDocs, segs[i].DelGen = live, sci.DelGen
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, i := range toOpen {
		g.Go(func() error {
			sci := &infos.Segments[i]
			r, live, err := openCommitted(gctx, s.store, sci, s.readerOpts)
			if err != nil {
				return err
			}
			segs[i] = SegmentView{Ref: NewSegmentRef(r, nil), LiveDocs: live, DelGen: sci.DelGen}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		release()
		return nil, infos.Generation, err
	}

	s.logger.Debug("opened commit", "gen", infos.Generation, "segments", len(segs),
		"reused", len(segs)-len(toOpen))
	return newView(segs, infos.Version, infos.Generation), infos.Generation, nil
}
