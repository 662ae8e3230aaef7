package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is matched by every checksum, header or structural failure.
	ErrCorrupt = errors.New("index corrupted")

	// ErrFormatVersion is matched when a file was written by an incompatible
	// format version.
	ErrFormatVersion = errors.New("unsupported index format version")
)

// CorruptError reports a damaged or inconsistent file.
type CorruptError struct {
	Resource string
	Reason   string
	Err      error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt index: %s (resource=%s): %v", e.Reason, e.Resource, e.Err)
	}
	return fmt.Sprintf("corrupt index: %s (resource=%s)", e.Reason, e.Resource)
}

// Is makes errors.Is(err, ErrCorrupt) succeed.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

func (e *CorruptError) Unwrap() error { return e.Err }

// Corruptf builds a CorruptError for resource.
func Corruptf(resource, format string, args ...any) error {
	return &CorruptError{Resource: resource, Reason: fmt.Sprintf(format, args...)}
}

// FormatVersionError reports a header whose version is outside [Min, Max].
type FormatVersionError struct {
	Resource string
	Codec    string
	Version  int32
	Min      int32
	Max      int32
}

func (e *FormatVersionError) Error() string {
	kind := "too old"
	if e.TooNew() {
		kind = "too new"
	}
	return fmt.Sprintf("format version %d of %s is %s, needs %d..%d (resource=%s)",
		e.Version, e.Codec, kind, e.Min, e.Max, e.Resource)
}

// TooNew reports whether the file was written by a newer format.
func (e *FormatVersionError) TooNew() bool { return e.Version > e.Max }

// Is makes errors.Is(err, ErrFormatVersion) succeed.
func (e *FormatVersionError) Is(target error) bool { return target == ErrFormatVersion }
