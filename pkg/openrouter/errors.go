package openrouter

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the upstream call exceeds the configured
// timeout.
var ErrTimeout = errors.New("openrouter: request timed out")

// HTTPError is a non-2xx response from the upstream API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openrouter: upstream status %d: %s", e.Status, e.Body)
}
