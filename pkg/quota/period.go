package quota

import "time"

// PeriodKey formats t's calendar month in UTC, the granularity at which
// counters reset. All backends key storage by it.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
