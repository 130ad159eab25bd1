package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics tracks HR backend REST calls.
type BackendMetrics struct {
	RequestsTotal   *prometheus.CounterVec   // by operation and status
	RequestDuration *prometheus.HistogramVec // by operation
}

// NewBackendMetrics creates and registers the backend collectors.
func NewBackendMetrics(registry prometheus.Registerer) (*BackendMetrics, error) {
	m := &BackendMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Backend requests by operation and HTTP status (\"error\" for transport failures)",
		}, []string{"operation", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"operation"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register backend metrics: %w", err)
	}
	return m, nil
}

// RecordRequest records one backend call. status is the HTTP status code or
// 0 for a transport error. Safe on a nil receiver.
func (m *BackendMetrics) RecordRequest(operation string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := ResultError
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.RequestsTotal.WithLabelValues(operation, label).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *BackendMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RequestsTotal.Collect(ch)
	m.RequestDuration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *BackendMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RequestsTotal.Describe(ch)
	m.RequestDuration.Describe(ch)
}
