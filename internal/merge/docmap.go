package merge

import "github.com/hupe1980/lexgo/internal/livedocs"

// DocMap maps the local doc ids of one merge input to doc ids of the merged
// segment. Deleted documents map to -1.
type DocMap struct {
	base    int
	maxDoc  int
	numLive int
	// newIDs is nil when the input has no deletions.
	newIDs []int32
}

// NewDocMap builds the map of an input with maxDoc documents whose first
// live document becomes base in the merged segment.
func NewDocMap(maxDoc, base int, live *livedocs.LiveDocs) DocMap {
	d := DocMap{base: base, maxDoc: maxDoc}
	if !live.HasDeletions() {
		d.numLive = maxDoc
		return d
	}
	d.newIDs = make([]int32, maxDoc)
	for doc := range d.newIDs {
		d.newIDs[doc] = -1
	}
	next := int32(base)
	live.ForEachLive(func(doc int) bool {
		if doc >= maxDoc {
			return false
		}
		d.newIDs[doc] = next
		next++
		return true
	})
	d.numLive = int(next) - base
	return d
}

// Get returns the new id of doc, or -1 when doc was deleted.
func (d DocMap) Get(doc int) int {
	if doc < 0 || doc >= d.maxDoc {
		return -1
	}
	if d.newIDs == nil {
		return d.base + doc
	}
	return int(d.newIDs[doc])
}

// Base returns the new id of the first live document.
func (d DocMap) Base() int { return d.base }

// MaxDoc returns the document count of the input.
func (d DocMap) MaxDoc() int { return d.maxDoc }

// NumLive returns the number of documents that survive the merge.
func (d DocMap) NumLive() int { return d.numLive }

// BuildDocMaps assigns contiguous new ids to the live documents of every
// input, in input order, and returns the maps with the merged doc count.
func BuildDocMaps(sources []Source) ([]DocMap, int) {
	maps := make([]DocMap, len(sources))
	base := 0
	for i, s := range sources {
		maps[i] = NewDocMap(s.Reader.MaxDoc(), base, s.LiveDocs)
		base += maps[i].NumLive()
	}
	return maps, base
}
