// Package segment implements the on-disk segment format.
//
// A segment is an immutable, self-contained inverted index over a contiguous
// range of local document ids. It is made of five files that share a name
// and a 16-byte id:
//
//   - <seg>.si  segment info: format, doc count, field infos, file list
//   - <seg>.tim term dictionary: one FST per field plus term metadata
//   - <seg>.doc postings: doc ids, freqs, positions, payloads, skip data
//   - <seg>.fdt stored fields in compressed blocks
//   - <seg>.dvd doc values columns
//
// Every file starts with a codec header and ends with a checksummed footer
// (see internal/codec). The .si file is written last, so a segment whose
// .si exists is complete.
package segment
