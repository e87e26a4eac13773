package app

import "errors"

// ErrNotFound and related errors describe store and coordination failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRevisionConflict = errors.New("revision conflict")
	ErrAllocationFailed = errors.New("sequence allocation failed")
	ErrLeaseHeld        = errors.New("edit lease held by another user")
)
