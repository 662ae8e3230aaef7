package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/queue"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
	"github.com/hupe1980/lexgo/numeric"
)

// SegmentView is one segment of a View.
type SegmentView struct {
	Ref *SegmentRef
	// LiveDocs is nil when no document of the segment is deleted.
	LiveDocs *livedocs.LiveDocs
	// DelGen is the deletes generation LiveDocs was loaded from. It is only
	// meaningful for views built from a commit.
	DelGen  int64
	DocBase int
}

// NumLive returns the number of live documents of the segment.
func (s SegmentView) NumLive() int {
	return s.Ref.Reader().MaxDoc() - s.LiveDocs.NumDeleted()
}

// View is an immutable, reference-counted set of segments. Document ids of a
// view are the local ids of each segment shifted by its DocBase.
//
// A View holds one reference on each of its segments and releases them when
// its own count drops to zero.
type View struct {
	refs       atomic.Int64
	segments   []SegmentView
	version    uint64
	generation int64
	maxDoc     int
	numDocs    int
}

// newView takes over one reference on every segment.
func newView(segments []SegmentView, version uint64, generation int64) *View {
	v := &View{segments: segments, version: version, generation: generation}
	v.refs.Store(1)
	for i := range v.segments {
		v.segments[i].DocBase = v.maxDoc
		v.maxDoc += v.segments[i].Ref.Reader().MaxDoc()
		v.numDocs += v.segments[i].NumLive()
	}
	return v
}

// IncRef adds a reference. The caller must already hold one.
func (v *View) IncRef() {
	v.refs.Add(1)
}

// TryIncRef attempts to increment the reference count.
// Returns true if successful, false if the view is already released (refs == 0).
func (v *View) TryIncRef() bool {
	for {
		refs := v.refs.Load()
		if refs <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference; the last one releases every segment.
func (v *View) DecRef() {
	n := v.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("engine: View released too many times")
	}
	for _, s := range v.segments {
		s.Ref.DecRef()
	}
}

// RefCount returns the current number of references.
func (v *View) RefCount() int64 { return v.refs.Load() }

// Segments returns the segments in doc-id order. Callers must not modify
// the result.
func (v *View) Segments() []SegmentView { return v.segments }

// Version returns the in-memory version the view was built from.
func (v *View) Version() uint64 { return v.version }

// Generation returns the last commit generation the view is based on.
func (v *View) Generation() int64 { return v.generation }

// MaxDoc returns one more than the largest doc id, deleted documents
// included.
func (v *View) MaxDoc() int { return v.maxDoc }

// NumDocs returns the number of live documents.
func (v *View) NumDocs() int { return v.numDocs }

// NumDeleted returns the number of deleted documents not yet merged away.
func (v *View) NumDeleted() int { return v.maxDoc - v.numDocs }

// segmentOf returns the index of the segment holding doc.
func (v *View) segmentOf(doc int) (int, error) {
	if doc < 0 || doc >= v.maxDoc {
		return 0, fmt.Errorf("%w: doc %d out of range [0, %d)", ErrInvalidArgument, doc, v.maxDoc)
	}
	i := sort.Search(len(v.segments), func(i int) bool { return v.segments[i].DocBase > doc }) - 1
	return i, nil
}

// IsLive reports whether doc is a live document of the view.
func (v *View) IsLive(doc int) bool {
	i, err := v.segmentOf(doc)
	if err != nil {
		return false
	}
	s := v.segments[i]
	return s.LiveDocs.IsLive(doc - s.DocBase)
}

// Document returns the stored fields of doc.
func (v *View) Document(ctx context.Context, doc int) (model.StoredDocument, error) {
	i, err := v.segmentOf(doc)
	if err != nil {
		return model.StoredDocument{}, err
	}
	s := v.segments[i]
	return s.Ref.Reader().Document(ctx, doc-s.DocBase)
}

// DocFreq returns the number of documents containing term in field. Deleted
// documents count until they are merged away.
func (v *View) DocFreq(field string, term []byte) (int, error) {
	total := 0
	for _, s := range v.segments {
		df, err := s.Ref.Reader().DocFreq(field, term)
		if err != nil {
			return 0, fmt.Errorf("segment %s: %w", s.Ref.Name(), err)
		}
		total += df
	}
	return total, nil
}

// Postings returns the live documents containing term in field.
func (v *View) Postings(field string, term []byte) (*Postings, error) {
	p := &Postings{doc: -1}
	for _, s := range v.segments {
		pe, err := s.Ref.Reader().Postings(field, term)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", s.Ref.Name(), err)
		}
		if pe != nil {
			p.subs = append(p.subs, subPostings{p: pe, base: s.DocBase, live: s.LiveDocs})
		}
	}
	return p, nil
}

// NumericRange returns the live documents matched by f.
func (v *View) NumericRange(ctx context.Context, f *numeric.RangeFilter) (*roaring.Bitmap, error) {
	result := roaring.New()
	if f.Empty() {
		return result, nil
	}
	for _, s := range v.segments {
		bm, err := f.Apply(ctx, s.Ref.Reader())
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", s.Ref.Name(), err)
		}
		if s.LiveDocs.HasDeletions() {
			bm.AndNot(s.LiveDocs.Deleted())
		}
		it := bm.Iterator()
		for it.HasNext() {
			result.Add(it.Next() + uint32(s.DocBase))
		}
	}
	return result, nil
}

// Terms returns an iterator over the union of the terms of field across all
// segments, in byte order.
func (v *View) Terms(field string) (*TermsIterator, error) {
	it := &TermsIterator{
		v: v,
		h: queue.NewMin(func(a, b termCursor) bool {
			if c := bytes.Compare(a.e.Term(), b.e.Term()); c != 0 {
				return c < 0
			}
			return a.seg < b.seg
		}, len(v.segments)),
	}
	for i, s := range v.segments {
		terms, err := s.Ref.Reader().Terms(field)
		if err != nil {
			_ = it.Close()
			return nil, err
		}
		if terms == nil {
			continue
		}
		e, err := terms.Iterator(nil, nil)
		if err != nil {
			_ = it.Close()
			return nil, err
		}
		it.enums = append(it.enums, e)
		if e.Next() {
			it.h.Push(termCursor{e: e, seg: i})
		} else if err := e.Err(); err != nil {
			_ = it.Close()
			return nil, err
		}
	}
	return it, nil
}

type termCursor struct {
	e   *segment.TermsEnum
	seg int
}

// TermsIterator walks the merged term dictionary of a field. It is not safe
// for concurrent use and must be closed.
type TermsIterator struct {
	v       *View
	h       *queue.MinHeap[termCursor]
	enums   []*segment.TermsEnum
	group   []termCursor
	term    []byte
	docFreq int
	ttf     int64
	err     error
}

// Next advances to the next distinct term.
func (it *TermsIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for _, c := range it.group {
		if c.e.Next() {
			it.h.Push(c)
		} else if err := c.e.Err(); err != nil {
			it.err = err
			return false
		}
	}
	it.group = it.group[:0]
	top, ok := it.h.Peek()
	if !ok {
		return false
	}
	it.term = append(it.term[:0], top.e.Term()...)
	it.docFreq, it.ttf = 0, 0
	for it.h.Len() > 0 {
		c, _ := it.h.Peek()
		if !bytes.Equal(c.e.Term(), it.term) {
			break
		}
		it.h.Pop()
		it.group = append(it.group, c)
		st := c.e.Stats()
		it.docFreq += st.DocFreq
		it.ttf += st.TotalTermFreq
	}
	return true
}

// Term returns the current term. The slice is reused by Next.
func (it *TermsIterator) Term() []byte { return it.term }

// DocFreq returns the document frequency of the current term summed over
// all segments.
func (it *TermsIterator) DocFreq() int { return it.docFreq }

// TotalTermFreq returns the summed total term frequency of the current term.
func (it *TermsIterator) TotalTermFreq() int64 { return it.ttf }

// Postings returns the live documents of the current term.
func (it *TermsIterator) Postings() (*Postings, error) {
	p := &Postings{doc: -1}
	for _, c := range it.group {
		pe, err := c.e.Postings()
		if err != nil {
			return nil, err
		}
		s := it.v.segments[c.seg]
		p.subs = append(p.subs, subPostings{p: pe, base: s.DocBase, live: s.LiveDocs})
	}
	return p, nil
}

// Err returns the first error met by Next.
func (it *TermsIterator) Err() error { return it.err }

// Close releases the per-segment enumerators.
func (it *TermsIterator) Close() error {
	for _, e := range it.enums {
		_ = e.Close()
	}
	it.enums = nil
	it.group = nil
	it.h.Reset()
	return nil
}

type subPostings struct {
	p    *segment.PostingsEnum
	base int
	live *livedocs.LiveDocs
}

// Postings iterates the live documents of a term across the segments of a
// view in increasing doc-id order.
type Postings struct {
	subs []subPostings
	cur  int
	doc  int
}

// DocID returns the current document, -1 before the first Next.
func (p *Postings) DocID() int { return p.doc }

// Next advances to the next live document and returns it, or
// model.NoMoreDocs.
func (p *Postings) Next() (int, error) {
	for p.cur < len(p.subs) {
		s := &p.subs[p.cur]
		d, err := s.p.Next()
		if err != nil {
			return 0, err
		}
		if d == model.NoMoreDocs {
			p.cur++
			continue
		}
		if !s.live.IsLive(d) {
			continue
		}
		p.doc = s.base + d
		return p.doc, nil
	}
	p.doc = model.NoMoreDocs
	return p.doc, nil
}

// SkipTo advances to the first live document >= target.
func (p *Postings) SkipTo(target int) (int, error) {
	if target <= p.doc {
		return p.doc, nil
	}
	for p.cur < len(p.subs) {
		s := &p.subs[p.cur]
		var (
			d   int
			err error
		)
		if local := target - s.base; local > s.p.DocID() {
			d, err = s.p.SkipTo(local)
		} else {
			d, err = s.p.Next()
		}
		for err == nil && d != model.NoMoreDocs && !s.live.IsLive(d) {
			d, err = s.p.Next()
		}
		if err != nil {
			return 0, err
		}
		if d != model.NoMoreDocs {
			p.doc = s.base + d
			return p.doc, nil
		}
		p.cur++
	}
	p.doc = model.NoMoreDocs
	return p.doc, nil
}

// Freq returns the frequency of the term in the current document.
func (p *Postings) Freq() int {
	if p.cur >= len(p.subs) {
		return 0
	}
	return p.subs[p.cur].p.Freq()
}

// Positions returns the positions of the term in the current document.
func (p *Postings) Positions() ([]segment.Position, error) {
	if p.cur >= len(p.subs) {
		return nil, nil
	}
	return p.subs[p.cur].p.Positions()
}

// Cost returns an upper bound of the documents the iterator visits.
func (p *Postings) Cost() int {
	n := 0
	for _, s := range p.subs {
		n += s.p.Cost()
	}
	return n
}
