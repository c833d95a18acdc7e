package quota

import "time"

// Metrics defines the interface for tracking quota operations.
type Metrics interface {
	// RecordIncrement records an increment attempt and whether it was
	// admitted.
	RecordIncrement(plan string, admitted bool, duration time.Duration)

	// RecordRead records a usage read.
	RecordRead(duration time.Duration)

	// RecordStoreError records a backend failure by operation name.
	RecordStoreError(operation string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIncrement(plan string, admitted bool, duration time.Duration) {}
func (n *NoopMetrics) RecordRead(duration time.Duration)                                  {}
func (n *NoopMetrics) RecordStoreError(operation string)                                  {}
