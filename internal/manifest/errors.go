package manifest

import "errors"

var (
	// ErrNotFound is returned when no commit exists.
	ErrNotFound = errors.New("manifest not found")

	// ErrInvalid is returned when a commit violates a structural invariant.
	ErrInvalid = errors.New("invalid segment infos")
)
