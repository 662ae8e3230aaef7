// Package numeric implements trie encoding of numeric values for efficient
// range filtering.
//
// Every indexed value produces one term per precision level. The term at
// shift 0 holds the exact value and lives in the field itself; coarser terms
// (shift = k*precisionStep) hold the value with its low bits dropped and live
// in LowerPrecisionField(field), so exact-match lookups never see them.
//
// A term is a shift marker byte followed by the big-endian sortable value
// shifted right by shift bits, fixed width (8 bytes for 64-bit types, 4 for
// 32-bit types). Byte-wise order of terms of one shift equals numeric order.
//
// At query time a range [min, max] is decomposed into a small set of
// SubRanges, one inclusive term range each, whose union covers exactly the
// values in [min, max].
package numeric
