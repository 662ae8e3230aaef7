package segment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/lexgo/blobstore"
)

// DefaultFormat is the name of the format written by Writer.
const DefaultFormat = "Lexgo10"

// ErrUnknownFormat is returned when a segment names an unregistered format.
var ErrUnknownFormat = errors.New("segment: unknown format")

// Format opens segments written in one on-disk format.
type Format interface {
	Name() string
	Open(ctx context.Context, store blobstore.BlobStore, info *Info, opts ...ReaderOption) (*Reader, error)
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{}
)

// RegisterFormat makes f available under f.Name(). Registering a name twice
// panics.
func RegisterFormat(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	if _, dup := formats[f.Name()]; dup {
		panic("segment: format " + f.Name() + " registered twice")
	}
	formats[f.Name()] = f
}

// LookupFormat returns the format registered under name.
func LookupFormat(name string) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// Formats returns the registered format names in sorted order.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens the segment described by info with the format it names.
func Open(ctx context.Context, store blobstore.BlobStore, info *Info, opts ...ReaderOption) (*Reader, error) {
	f, err := LookupFormat(info.Format)
	if err != nil {
		return nil, err
	}
	return f.Open(ctx, store, info, opts...)
}

type lexgo10 struct{}

func (lexgo10) Name() string { return DefaultFormat }

func (lexgo10) Open(ctx context.Context, store blobstore.BlobStore, info *Info, opts ...ReaderOption) (*Reader, error) {
	return openReader(ctx, store, info, opts...)
}

func init() {
	RegisterFormat(lexgo10{})
}
