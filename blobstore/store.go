package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotFound is matched when a blob does not exist.
	ErrNotFound = os.ErrNotExist
	// ErrExists is matched when Create targets an existing blob.
	ErrExists = os.ErrExist
)

// BlobStore stores named, immutable blobs. Implementations must be safe for
// concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts writing a new blob. It fails with ErrExists when the name
	// is taken. The blob becomes visible when the writer is closed.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put atomically writes or replaces a small blob.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a blob.
type Blob interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange streams length bytes starting at off.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	Size() int64
	Close() error
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	// Sync makes written data durable where the backend distinguishes it.
	Sync() error
	// Close publishes the blob.
	Close() error
	// Abort discards the blob. Calling Abort after Close is a no-op.
	Abort() error
}

// Mappable is implemented by blobs that expose their content in memory.
type Mappable interface {
	// Bytes returns the content, valid until the blob is closed.
	Bytes() ([]byte, error)
}

// ReadAll returns the whole content of b, without copying when b is Mappable.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	if m, ok := b.(Mappable); ok {
		return m.Bytes()
	}
	size := b.Size()
	rc, err := b.ReadRange(ctx, 0, size)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := make([]byte, size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return buf, nil
}

// Exists reports whether name exists in s.
func Exists(ctx context.Context, s BlobStore, name string) (bool, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, b.Close()
}

// sectionReader adapts a context-aware ReadAt to io.Reader.
type sectionReader struct {
	ctx   context.Context
	blob  Blob
	off   int64
	limit int64
}

func newSectionReader(ctx context.Context, b Blob, off, length int64) io.ReadCloser {
	return io.NopCloser(&sectionReader{ctx: ctx, blob: b, off: off, limit: off + length})
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

func readAtBytes(data []byte, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("blobstore: negative offset %d", off)
	}
	if off >= int64(len(data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
