package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound         = errors.New("domain: not found")
	ErrStoreUnavailable = errors.New("domain: store unavailable")
	ErrInvalidSessionID = errors.New("domain: invalid session id")
)
