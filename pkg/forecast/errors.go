package forecast

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is the sentinel all validation failures unwrap to.
var ErrInvalidRequest = errors.New("invalid forecast request")

// errNoPayload marks a model response from which no usable JSON object could
// be extracted. It never leaves the orchestrator; the fallback path absorbs
// it and records the reason in Meta.Error.
var errNoPayload = errors.New("no usable JSON payload")

// ValidationError reports a missing or malformed request field. It is
// surfaced immediately: no retry, no fallback, and no quota spend.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid forecast request: %s: %s", e.Field, e.Message)
}

// Unwrap ties validation failures to ErrInvalidRequest for errors.Is checks.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}
