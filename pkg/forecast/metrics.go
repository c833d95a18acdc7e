package forecast

import "time"

// Metrics defines the interface for tracking forecast pipeline operations.
type Metrics interface {
	// RecordForecast records a completed forecast and the source label of
	// the path that produced it.
	RecordForecast(source string, duration time.Duration)

	// RecordStageFailure records a failed model stage ("stage1", "stage2",
	// or "single").
	RecordStageFailure(stage string)

	// RecordStageRetry records a retried model stage.
	RecordStageRetry(stage string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordForecast(source string, duration time.Duration) {}
func (n *NoopMetrics) RecordStageFailure(stage string)                      {}
func (n *NoopMetrics) RecordStageRetry(stage string)                        {}
