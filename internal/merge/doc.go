// Package merge selects and executes segment merges.
//
// TieredPolicy decides which segments to merge. Merger rewrites the live
// documents of N input segments into one new segment: terms are merged
// through a min-heap keyed by (term, input), postings are remapped through
// per-input DocMaps that drop deleted documents, stored fields and doc values
// are copied in new doc-id order. Term statistics of the output are computed
// from what was written, never copied from the inputs.
//
// Registering the output and carrying over deletes that arrived during the
// merge is the caller's job.
package merge
