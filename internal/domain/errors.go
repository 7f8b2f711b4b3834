package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConfigInactive aborts a cycle without touching any position.
	ErrConfigInactive = errors.New("trading configuration is inactive")

	// ErrValidationRejected marks a sizing rejection. It is a designed
	// outcome, not a failure; callers record the reason and move on.
	ErrValidationRejected = errors.New("order failed validation")
)
