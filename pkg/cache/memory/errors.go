package memory

import "errors"

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("memory: key not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("memory: cache closed")
)
