package models

import (
	"errors"

	dErrors "objectmap/pkg/domain-errors"
)

// Registry failure kinds. Each is a coded domain error so transports can map it
// directly, and a stable pointer so callers can match it with errors.Is.
var (
	ErrInvalidNumber      = dErrors.New(dErrors.CodeBadRequest, "number is outside the collection range")
	ErrDuplicateEntry     = dErrors.New(dErrors.CodeConflict, "number already has an object id")
	ErrNotFrozen          = dErrors.New(dErrors.CodeConflict, "registry is not frozen")
	ErrNotInitialized     = dErrors.New(dErrors.CodeConflict, "registry is not fully populated")
	ErrAlreadyFrozen      = dErrors.New(dErrors.CodeConflict, "registry is already frozen")
	ErrAlreadyInitialized = dErrors.New(dErrors.CodeConflict, "registry is already fully populated")
	ErrUnauthorized       = dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the freeze capability")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidNumber, "invalid_number"},
	{ErrDuplicateEntry, "duplicate_entry"},
	{ErrNotFrozen, "not_frozen"},
	{ErrNotInitialized, "not_initialized"},
	{ErrAlreadyFrozen, "already_frozen"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrUnauthorized, "unauthorized"},
}

// ErrorKind returns the wire name of a registry failure, or "" when err is not one.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// ErrorFromKind is the inverse of ErrorKind. Used by clients decoding error envelopes.
func ErrorFromKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
