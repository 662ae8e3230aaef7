// Package mmap maps segment files read-only into memory so readers can decode
// term dictionaries and postings in place without copying.
//
// A Mapping must not be used after Close; slices obtained from Bytes become
// invalid at that point. Segment readers guarantee this through reference
// counting.
package mmap
