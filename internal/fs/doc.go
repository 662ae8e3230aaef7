// Package fs abstracts the local file system used by blobstore.LocalStore so
// tests can inject write, sync, rename and remove failures through FaultyFS.
//
// Operations take no context.Context: local syscalls are not interruptible.
// Remote stores implement blobstore.BlobStore directly.
package fs
