package domain

import "errors"

var (
	// ErrInvalidInput marks a submission rejected before any state change.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a lookup with no matching record.
	ErrNotFound = errors.New("not found")
)
