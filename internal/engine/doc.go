// Package engine implements the index writer and the reader side of a
// segment store.
//
// The engine orchestrates:
//   - an in-memory buffer for new documents, flushed into immutable segments
//   - deletes by term, recorded as copy-on-write live docs per segment
//   - commits that publish a new Segment Infos generation
//   - a file deleter that removes files no view or commit references
//   - background merges picked by a merge.Policy
//
// Readers work on a View: a reference-counted, immutable set of segments and
// their live docs. A Manager hands out the current view and swaps in newer
// ones produced by a RefreshSource, either the Engine itself (near real time)
// or a DirectorySource that follows the commits in a store.
//
// An index must have at most one Engine writing to it.
package engine
