// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUpstream          = errors.New("upstream unavailable")
	ErrNoDataset         = errors.New("no dataset downloaded")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidData       = errors.New("invalid data")
)
