package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/internal/mmap"
)

const tempSuffix = ".tmp"

// LocalStore keeps blobs as files in one directory.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithFileSystem replaces the file system, typically with fs.FaultyFS.
func WithFileSystem(fsys fs.FileSystem) LocalOption {
	return func(s *LocalStore) { s.fs = fsys }
}

// NewLocalStore opens (creating if needed) the directory root.
func NewLocalStore(root string, opts ...LocalOption) (*LocalStore, error) {
	s := &LocalStore{root: root, fs: fs.Default}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	return s, nil
}

// Root returns the directory of the store.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) string { return filepath.Join(s.root, name) }

// Open maps the blob read-only.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Create writes to a temp file that is renamed into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	if _, err := s.fs.Stat(s.path(name)); err == nil {
		return nil, fmt.Errorf("create %s: %w", name, ErrExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := s.fs.CreateTemp(s.root, name+tempSuffix+"*")
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{store: s, f: f, name: name}, nil
}

// Put replaces name atomically: temp file, fsync, rename, directory fsync.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	f, err := s.fs.CreateTemp(s.root, name+tempSuffix+"*")
	if err != nil {
		return err
	}
	w := &localWritableBlob{store: s, f: f, name: name}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := s.fs.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List skips directories and in-flight temp files.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.Contains(name, tempSuffix) || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return 0, mmap.ErrClosed
	}
	return readAtBytes(data, p, off)
}

func (b *localBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	data := b.m.Bytes()
	if off < 0 || length < 0 || off+length > int64(len(data)) {
		return nil, fmt.Errorf("blobstore: range [%d,+%d) beyond size %d", off, length, len(data))
	}
	return io.NopCloser(bytes.NewReader(data[off : off+length])), nil
}

func (b *localBlob) Size() int64 { return b.m.Size() }

func (b *localBlob) Close() error { return b.m.Close() }

// Advise forwards an access-pattern hint to the mapping.
func (b *localBlob) Advise(pattern mmap.AccessPattern) error { return b.m.Advise(pattern) }

func (b *localBlob) Bytes() ([]byte, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}

type localWritableBlob struct {
	store *LocalStore
	f     fs.File
	name  string
	done  bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *localWritableBlob) Sync() error { return w.f.Sync() }

func (w *localWritableBlob) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = w.store.fs.Remove(tmp)
		return fmt.Errorf("sync %s: %w", w.name, err)
	}
	if err := w.f.Close(); err != nil {
		_ = w.store.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", w.name, err)
	}
	if err := w.store.fs.Rename(tmp, w.store.path(w.name)); err != nil {
		_ = w.store.fs.Remove(tmp)
		return fmt.Errorf("publish %s: %w", w.name, err)
	}
	if err := fs.SyncDir(w.store.fs, w.store.root); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}

func (w *localWritableBlob) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	if err := w.store.fs.Remove(w.f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
