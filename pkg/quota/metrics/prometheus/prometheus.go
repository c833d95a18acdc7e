// Package prommetrics implements quota.Metrics using Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements quota.Metrics using Prometheus.
type Metrics struct {
	incrementsTotal   *prometheus.CounterVec
	incrementDuration *prometheus.HistogramVec
	readDuration      prometheus.Histogram
	storeErrors       *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation registered on
// reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		incrementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_increments_total",
			Help:      "Total number of quota increment attempts, by plan and admission outcome.",
		}, []string{"plan", "admitted"}),

		incrementDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_increment_duration_seconds",
			Help:      "Quota increment latency, by plan.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plan"}),

		readDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_read_duration_seconds",
			Help:      "Quota usage read latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_store_errors_total",
			Help:      "Total number of quota store failures, by operation.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordIncrement(plan string, admitted bool, duration time.Duration) {
	m.incrementsTotal.WithLabelValues(plan, strconv.FormatBool(admitted)).Inc()
	m.incrementDuration.WithLabelValues(plan).Observe(duration.Seconds())
}

func (m *Metrics) RecordRead(duration time.Duration) {
	m.readDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordStoreError(operation string) {
	m.storeErrors.WithLabelValues(operation).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
