// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/engine layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an ownership check failure (acting on another user's resource).
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthRejected indicates a platform rejected onboarding credentials.
	ErrAuthRejected = errors.New("platform auth rejected")

	// ErrSessionExpired indicates a previously valid platform session is no longer accepted.
	// Re-onboarding is required; the error is never retried automatically.
	ErrSessionExpired = errors.New("platform session expired")

	// ErrSendFailed indicates a platform refused an outbound message.
	ErrSendFailed = errors.New("send failed")

	// ErrDecryption indicates stored credential material failed to decrypt.
	// Treated like ErrSessionExpired: the account must be re-onboarded.
	ErrDecryption = errors.New("decryption failed")

	// ErrDegraded indicates an account whose background listener has stopped.
	ErrDegraded = errors.New("account degraded")
)
