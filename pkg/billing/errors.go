package billing

import "errors"

var (
	// ErrNotConfigured is returned when a provider is missing required
	// configuration (typically an API key).
	ErrNotConfigured = errors.New("billing provider not configured")

	// ErrUserNotFound is returned when a user cannot be found in the
	// provider's system.
	ErrUserNotFound = errors.New("user not found in billing provider")
)
