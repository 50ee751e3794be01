package auth

import "errors"

var (
	// ErrUnauthorized is returned when a request carries no usable credentials.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrTriggerNotConfigured = errors.New("auth: trigger secret not configured")
	ErrTriggerUnsigned      = errors.New("auth: missing trigger signature")
	ErrTriggerExpired       = errors.New("auth: trigger signature expired")
	ErrTriggerSignature     = errors.New("auth: invalid trigger signature")
)
