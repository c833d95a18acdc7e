// Package prommetrics implements forecast.Metrics using Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements forecast.Metrics using Prometheus.
type Metrics struct {
	forecastsTotal   *prometheus.CounterVec
	forecastDuration *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
	stageRetries     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation registered on
// reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		forecastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Total number of forecasts generated, by source path.",
		}, []string{"source"}),

		forecastDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      "End-to-end forecast generation latency, by source path.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 2.5, 5, 10, 20, 30},
		}, []string{"source"}),

		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_stage_failures_total",
			Help:      "Total number of failed model stages.",
		}, []string{"stage"}),

		stageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_stage_retries_total",
			Help:      "Total number of retried model stages.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) RecordForecast(source string, duration time.Duration) {
	m.forecastsTotal.WithLabelValues(source).Inc()
	m.forecastDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (m *Metrics) RecordStageFailure(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordStageRetry(stage string) {
	m.stageRetries.WithLabelValues(stage).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
