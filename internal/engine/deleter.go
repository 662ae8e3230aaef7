package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/manifest"
)

// fileDeleter counts references to index files and deletes a file once
// nothing refers to it. References come from open segments (one per
// SegmentRef) and from the last commit.
type fileDeleter struct {
	mu         sync.Mutex
	store      blobstore.BlobStore
	refs       map[string]int
	pending    map[string]struct{}
	lastCommit []string
	logger     *slog.Logger
}

func newFileDeleter(store blobstore.BlobStore, logger *slog.Logger) *fileDeleter {
	return &fileDeleter{
		store:   store,
		refs:    make(map[string]int),
		pending: make(map[string]struct{}),
		logger:  logger,
	}
}

func (d *fileDeleter) incRef(files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.incRefLocked(files)
}

func (d *fileDeleter) incRefLocked(files []string) {
	for _, f := range files {
		d.refs[f]++
		delete(d.pending, f)
	}
}

// decRef drops one reference per file and deletes the files that reach zero.
func (d *fileDeleter) decRef(ctx context.Context, files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decRefLocked(ctx, files)
}

func (d *fileDeleter) decRefLocked(ctx context.Context, files []string) {
	for _, f := range files {
		n, ok := d.refs[f]
		if !ok {
			d.logger.Warn("file deleter: unreferenced file released", "file", f)
			continue
		}
		if n > 1 {
			d.refs[f] = n - 1
			continue
		}
		delete(d.refs, f)
		d.deleteLocked(ctx, f)
	}
}

// checkpoint makes files the references of the last commit.
func (d *fileDeleter) checkpoint(ctx context.Context, files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Reference the new commit first so shared files never reach zero.
	d.incRefLocked(files)
	prev := d.lastCommit
	d.lastCommit = slices.Clone(files)
	d.decRefLocked(ctx, prev)
	d.retryLocked(ctx)
}

// deleteUnreferenced deletes files that were written but never referenced,
// such as the output of an abandoned merge.
func (d *fileDeleter) deleteUnreferenced(ctx context.Context, files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range files {
		if d.refs[f] == 0 {
			d.deleteLocked(ctx, f)
		}
	}
}

// sweep deletes every index file in the store that nothing references. It
// runs once when the writer opens and removes what a crash left behind.
func (d *fileDeleter) sweep(ctx context.Context) error {
	names, err := d.store.List(ctx, "")
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		if name == manifest.CurrentFileName || !manifest.IsIndexFile(name) {
			continue
		}
		if d.refs[name] == 0 {
			d.logger.Debug("removing unreferenced file", "file", name)
			d.deleteLocked(ctx, name)
		}
	}
	return nil
}

func (d *fileDeleter) deleteLocked(ctx context.Context, name string) {
	if err := d.store.Delete(ctx, name); err != nil {
		d.logger.Warn("delete failed, will retry", "file", name, "error", err)
		d.pending[name] = struct{}{}
		return
	}
	delete(d.pending, name)
}

// retryLocked retries deletions that failed earlier.
func (d *fileDeleter) retryLocked(ctx context.Context) {
	for name := range d.pending {
		if d.refs[name] > 0 {
			delete(d.pending, name)
			continue
		}
		d.deleteLocked(ctx, name)
	}
}

func (d *fileDeleter) refCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs[name]
}

func (d *fileDeleter) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
