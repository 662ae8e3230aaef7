// Package blobstore is the storage abstraction under a lexgo index.
//
// Every index file (segment files, live-docs files, manifests and the CURRENT
// pointer) is a named, immutable blob. Writers stream a new blob through
// Create and publish it on Close; small metadata files are replaced
// atomically through Put. Readers open blobs for random access and, when the
// backend supports it (Mappable), decode them in place.
//
// Built-in implementations:
//
//   - LocalStore: a directory on the local file system, mmap reads, temp file
//     plus rename writes with fsync of file and directory
//   - MemoryStore: in-process, for tests and ephemeral indexes
//   - CachingStore: block cache in front of any store (LRU or Redis)
//   - s3.Store and minio.Store in the sub-packages
package blobstore
