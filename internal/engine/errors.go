package engine

import (
	"errors"

	"github.com/hupe1980/lexgo/internal/merge"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrManagerClosed is returned by Acquire and MaybeRefresh after the
	// manager was closed.
	ErrManagerClosed = errors.New("reader manager closed")

	// ErrMergeAborted is returned by a merge whose inputs changed or that was
	// cancelled. It is logged, never returned from public write calls.
	ErrMergeAborted = merge.ErrAborted

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")
)
