package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// Lockout error kinds
	ErrConfiguration   = errors.New("invalid lockout configuration")
	ErrStorage         = errors.New("attempt store unavailable")
	ErrInvalidIdentity = errors.New("client identity cannot be resolved")
	ErrLockedOut       = errors.New("client is locked out")
)
