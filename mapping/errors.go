package mapping

import "errors"

var (
	// ErrMappingConflict means the requested class name disagrees with an
	// accepted or in-flight binding for the same key. Not retried; pick a new id.
	ErrMappingConflict = errors.New("mapping conflict")

	// ErrMappingTimeout means no Accepted message arrived within the window,
	// typically because ring membership changed mid-flight. Retry the
	// registration.
	ErrMappingTimeout = errors.New("mapping timeout")

	// ErrInvariantViolation means an Accepted message disagreed with the
	// accepted store. It indicates a bug in conflict detection.
	ErrInvariantViolation = errors.New("mapping invariant violation")

	// ErrStopped is returned to waiters when the coordinator shuts down.
	ErrStopped = errors.New("mapping coordinator stopped")

	ErrInvalidItem = errors.New("invalid mapping item")
)
