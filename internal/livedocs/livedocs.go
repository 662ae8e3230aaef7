// Package livedocs tracks which documents of a segment are still live.
//
// A LiveDocs value is immutable: applying deletes returns a new value and
// readers keep the version they started with. Deleted documents are kept in
// a roaring bitmap, so a segment without deletes costs nothing. A nil
// *LiveDocs means every document is live.
package livedocs

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// LiveDocs is an immutable live-documents set over [0, MaxDoc).
type LiveDocs struct {
	deleted *roaring.Bitmap
	maxDoc  int
}

// New returns a LiveDocs with every document live.
func New(maxDoc int) *LiveDocs {
	return &LiveDocs{deleted: roaring.New(), maxDoc: maxDoc}
}

// FromDeleted takes ownership of deleted. Ids at or beyond maxDoc are
// dropped.
func FromDeleted(maxDoc int, deleted *roaring.Bitmap) *LiveDocs {
	if deleted == nil {
		deleted = roaring.New()
	}
	if deleted.GetCardinality() > 0 && int(deleted.Maximum()) >= maxDoc {
		deleted.RemoveRange(uint64(maxDoc), uint64(deleted.Maximum())+1)
	}
	return &LiveDocs{deleted: deleted, maxDoc: maxDoc}
}

// MaxDoc returns the number of documents covered, deleted included.
func (l *LiveDocs) MaxDoc() int {
	if l == nil {
		return 0
	}
	return l.maxDoc
}

// IsLive reports whether doc is live.
func (l *LiveDocs) IsLive(doc int) bool {
	if l == nil {
		return true
	}
	return doc >= 0 && doc < l.maxDoc && !l.deleted.Contains(uint32(doc))
}

// NumDeleted returns the number of deleted documents.
func (l *LiveDocs) NumDeleted() int {
	if l == nil {
		return 0
	}
	return int(l.deleted.GetCardinality())
}

// NumLive returns the number of live documents. A nil LiveDocs does not
// know its segment size, so NumLive and MaxDoc report 0 for it; callers
// holding nil use the segment's document count instead.
func (l *LiveDocs) NumLive() int {
	if l == nil {
		return 0
	}
	return l.maxDoc - l.NumDeleted()
}

// HasDeletions reports whether any document is deleted.
func (l *LiveDocs) HasDeletions() bool { return l.NumDeleted() > 0 }

// Deleted returns the deleted set. Callers must not modify it.
func (l *LiveDocs) Deleted() *roaring.Bitmap {
	if l == nil {
		return roaring.New()
	}
	return l.deleted
}

// WithDeleted returns a LiveDocs that additionally deletes docs. The receiver
// is returned unchanged when nothing new is deleted.
func (l *LiveDocs) WithDeleted(docs ...int) *LiveDocs {
	var next *roaring.Bitmap
	for _, d := range docs {
		if !l.IsLive(d) {
			continue
		}
		if next == nil {
			next = l.deleted.Clone()
		}
		next.Add(uint32(d))
	}
	if next == nil {
		return l
	}
	return &LiveDocs{deleted: next, maxDoc: l.maxDoc}
}

// WithDeletedBitmap is WithDeleted for a bitmap of doc ids.
func (l *LiveDocs) WithDeletedBitmap(bm *roaring.Bitmap) *LiveDocs {
	if bm == nil || bm.IsEmpty() {
		return l
	}
	add := bm.Clone()
	if l.maxDoc < int(add.Maximum())+1 {
		add.RemoveRange(uint64(l.maxDoc), uint64(add.Maximum())+1)
	}
	add.AndNot(l.deleted)
	if add.IsEmpty() {
		return l
	}
	next := roaring.Or(l.deleted, add)
	return &LiveDocs{deleted: next, maxDoc: l.maxDoc}
}

// NewlyDeleted returns the documents deleted in l but live in base.
func (l *LiveDocs) NewlyDeleted(base *LiveDocs) *roaring.Bitmap {
	if l == nil {
		return roaring.New()
	}
	if base == nil {
		return l.deleted.Clone()
	}
	return roaring.AndNot(l.deleted, base.deleted)
}

// ForEachLive calls fn for every live document in increasing order until fn
// returns false.
func (l *LiveDocs) ForEachLive(fn func(doc int) bool) {
	for d := 0; d < l.MaxDoc(); d++ {
		if l.IsLive(d) && !fn(d) {
			return
		}
	}
}
