package archive

import "errors"

var (
	// ErrNotFound is returned when no archived entry has the requested ID.
	ErrNotFound = errors.New("archived task not found")

	// ErrNotTerminal is returned when recording a task that has not settled.
	ErrNotTerminal = errors.New("task is not in a terminal state")

	// ErrUnsupportedDriver is returned by Open for unknown driver names.
	ErrUnsupportedDriver = errors.New("unsupported archive driver")
)
