package engine

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/lexgo/internal/segment"
)

// SegmentRef wraps an open segment reader with a reference count. The last
// DecRef closes the reader and runs the release callback, which lets the
// file deleter drop its references to the segment files.
type SegmentRef struct {
	reader    *segment.Reader
	refs      atomic.Int64
	onRelease func()
}

// NewSegmentRef returns a ref holding one reference. onRelease may be nil.
func NewSegmentRef(r *segment.Reader, onRelease func()) *SegmentRef {
	ref := &SegmentRef{reader: r, onRelease: onRelease}
	ref.refs.Store(1)
	return ref
}

// Reader returns the segment reader. It is valid while a reference is held.
func (r *SegmentRef) Reader() *segment.Reader { return r.reader }

// Name returns the segment name.
func (r *SegmentRef) Name() string { return r.reader.Name() }

// ID returns the segment id.
func (r *SegmentRef) ID() uuid.UUID { return r.reader.Info().ID }

// RefCount returns the current number of references.
func (r *SegmentRef) RefCount() int64 { return r.refs.Load() }

// IncRef adds a reference. The caller must already hold one.
func (r *SegmentRef) IncRef() {
	r.refs.Add(1)
}

// TryIncRef adds a reference unless the segment was already released.
func (r *SegmentRef) TryIncRef() bool {
	for {
		refs := r.refs.Load()
		if refs <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference and releases the segment when it was the last.
func (r *SegmentRef) DecRef() {
	n := r.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("engine: SegmentRef released too many times: " + r.Name())
	}
	_ = r.reader.Close()
	if r.onRelease != nil {
		r.onRelease()
	}
}
