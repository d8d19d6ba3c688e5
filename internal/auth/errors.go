package auth

import "errors"

// Error taxonomy shared across the authentication engine. Handlers map
// these to HTTP status codes with errors.Is; everything else is wrapped
// as an internal error.
var (
	// ErrChallengeNotFound means no usable OTP challenge exists for the phone.
	ErrChallengeNotFound = errors.New("otp challenge not found or expired")
	// ErrInvalidCode means the submitted code did not match the challenge hash.
	ErrInvalidCode = errors.New("invalid otp code")
	// ErrAttemptsExhausted means the challenge is permanently dead; even the
	// correct code is rejected until a fresh challenge is requested.
	ErrAttemptsExhausted = errors.New("too many failed attempts")
	// ErrInvalidCredentials covers unknown identifier or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized covers bad signature, expired or revoked tokens, and
	// device mismatch or revocation.
	ErrUnauthorized = errors.New("invalid or expired token")
	// ErrAccountLocked means the identifier is under a failure lockout.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrDeviceNotFound is returned by explicit device revocation only.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDependencyUnavailable means SMS or the ledger store is down while required.
	ErrDependencyUnavailable = errors.New("service dependency unavailable")
)
