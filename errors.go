package lexgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/lexgo/blobstore/s3"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
)

var (
	// ErrClosed is returned by operations on a closed Index or Reader.
	ErrClosed = errors.New("lexgo: closed")

	// ErrNotFound is returned by OpenReader when the store holds no commit.
	ErrNotFound = errors.New("lexgo: index not found")

	// ErrInvalidArgument is returned for invalid documents, doc ids and
	// option values.
	ErrInvalidArgument = errors.New("lexgo: invalid argument")

	// ErrConcurrentModification is returned by Commit when another writer
	// published a commit first.
	ErrConcurrentModification = errors.New("lexgo: concurrent modification")

	// ErrCorrupt is matched by errors for damaged index files. Corrupt
	// files are never repaired.
	ErrCorrupt = codec.ErrCorrupt

	// ErrFormatVersion is matched by errors for files written by an
	// unsupported format version.
	ErrFormatVersion = codec.ErrFormatVersion
)

// CorruptError names the damaged resource. It matches ErrCorrupt.
type CorruptError = codec.CorruptError

// FormatVersionError describes an unsupported codec version. It matches
// ErrFormatVersion.
type FormatVersionError = codec.FormatVersionError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, engine.ErrClosed),
		errors.Is(err, engine.ErrManagerClosed),
		errors.Is(err, segment.ErrReaderClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, manifest.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, engine.ErrInvalidArgument),
		errors.Is(err, model.ErrInvalidDocument),
		errors.Is(err, manifest.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, s3.ErrConcurrentModification):
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	}
	return err
}
