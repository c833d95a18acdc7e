// Package quota enforces per-user monthly forecast caps. A Ledger resolves
// the cap for the caller's plan and delegates the atomic counting to a Store
// backend; counters reset by calendar month.
package quota

import (
	"context"
)

// Counter is one user's usage within one calendar month.
type Counter struct {
	UserID    string
	PeriodKey string
	Count     int
	Cap       int
}

// Remaining returns how many forecasts the user has left this period.
func (c Counter) Remaining() int {
	if r := c.Cap - c.Count; r > 0 {
		return r
	}
	return 0
}

// Store persists monthly counters. Increment must be atomic: under concurrent
// calls every admitted increment observes a distinct count and the stored
// count never passes the cap.
type Store interface {
	// Increment adds one to the user's counter for periodKey when the
	// result stays at or under the cap, returning the stored counter. When
	// the cap is already consumed it returns the unchanged counter and a
	// *ExceededError. Backend failures wrap ErrStoreUnavailable.
	Increment(ctx context.Context, userID, periodKey string, limit int) (Counter, error)

	// Read returns the counter without modifying it. A user with no usage
	// in the period yields a zero count, not an error.
	Read(ctx context.Context, userID, periodKey string) (Counter, error)
}
