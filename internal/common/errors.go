// Package common defines shared constants and sentinel errors used across
// the relay server and its clients. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Protocol errors. None of these are retried automatically: the unit of
	// recovery is closing the connection and letting the client reconnect.

	// ErrStructural marks a malformed block or tag stream.
	ErrStructural = errors.New("malformed stream")
	// ErrIntegrity marks an authenticated-decryption failure (wrong key or
	// tampered data).
	ErrIntegrity = errors.New("integrity check failed")
	// ErrAuthRejected is the generic login failure. It never says which
	// field was wrong.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrTooManyAttempts is returned once the second-factor budget is spent.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrBrokenStream means the peer vanished in the middle of a block.
	ErrBrokenStream = errors.New("broken stream")
)
