package auth

import "errors"

var (
	// ErrInvalidCredential covers both an unknown identity and a wrong
	// password so callers cannot enumerate registered identities.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	ErrDuplicateIdentity = errors.New("auth: identity already registered")
	ErrNotFound          = errors.New("auth: not found")
	ErrInvalidInput      = errors.New("auth: invalid input")
	ErrConflict          = errors.New("auth: resource conflict")
	ErrPermissionDenied  = errors.New("auth: permission denied")
)
