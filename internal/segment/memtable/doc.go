// Package memtable implements the in-memory indexing buffer.
//
// # Lifecycle
//
// A Buffer collects inverted postings, stored fields and doc values of newly
// added documents. When it reaches the configured size it is frozen by the
// engine and flushed into a new segment through segment.Writer. Deletes by
// term are applied to buffered documents immediately and handed to the
// flushed segment as its initial live docs.
package memtable
