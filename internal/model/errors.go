package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the socket and HTTP surfaces.
var (
	// ErrAuthentication is returned for a bad or missing handshake credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAccessDenied is returned when a non-participant acts on a chat.
	ErrAccessDenied = errors.New("access denied")

	// ErrValidation is returned for malformed payloads. No state is mutated.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced chat, message or user is absent.
	ErrNotFound = errors.New("not found")

	// ErrProviderDelivery wraps push gateway failures. Logged only.
	ErrProviderDelivery = errors.New("push provider delivery failed")

	// ErrPersistence wraps collaborator store failures.
	ErrPersistence = errors.New("persistence failed")
)

// Wire codes for errors sent back to clients.
const (
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAccessDenied   = "ACCESS_DENIED"
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodePersistence    = "PERSISTENCE_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// Invalid builds a validation error with a human readable reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a store error so callers can classify it. The cause stays
// in the chain, so a wrapped ErrNotFound still maps to NOT_FOUND.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// ErrorCode maps an error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}
