package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned when a user's monthly cap is reached.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached or answered with a backend failure.
	ErrStoreUnavailable = errors.New("quota store unavailable")
)

// ExceededError reports a rejected increment together with the counter state
// that caused it. It unwraps to ErrQuotaExceeded.
type ExceededError struct {
	Count int
	Cap   int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d forecasts used this period", e.Count, e.Cap)
}

func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }
