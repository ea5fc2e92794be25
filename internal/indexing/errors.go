package indexing

import "errors"

var (
	// ErrOverflow is fatal for the current generation: the kernel dropped
	// notifications, so the index can no longer be trusted and must be
	// rebuilt from a fresh walk.
	ErrOverflow = errors.New("watcher event overflow")

	// ErrRootNotFound reports that the watched root directory disappeared
	// or never existed.
	ErrRootNotFound = errors.New("root directory not found")
)
