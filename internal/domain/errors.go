package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound       = errors.New("domain: not found")
	ErrConflict       = errors.New("domain: conflict")
	ErrValidation     = errors.New("domain: validation failed")
	ErrSessionInvalid = errors.New("domain: session invalid")
	ErrIntegrity      = errors.New("domain: ledger integrity violation")
	ErrUnavailable    = errors.New("domain: storage unavailable")
)
