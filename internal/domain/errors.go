package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrInvalidInput is returned when a call is missing a required identifier.
	ErrInvalidInput = errors.New("invalid input")

	// Token verification failures. Each is distinct so callers can offer
	// "resend" versus "locked out" messaging.
	ErrAlreadyUsed     = errors.New("token already used")
	ErrExpired         = errors.New("token expired")
	ErrTooManyAttempts = errors.New("too many attempts")

	ErrAlreadyLinked           = errors.New("already linked")
	ErrInsufficientAuthMethods = errors.New("insufficient authentication methods")

	// ErrMergeFailed signals a store failure during consolidation. The whole
	// operation may be retried.
	ErrMergeFailed = errors.New("merge failed")
)
