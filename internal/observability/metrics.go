// Package observability provides Prometheus metrics for notifyd.
// Sentry error telemetry is handled in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry      *prometheus.Registry
	Backend       *metrics.BackendMetrics
	Push          *metrics.PushMetrics
	Notifications *metrics.NotificationMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors plus
// the notifyd collectors. pushStates lists the push connection state names.
func NewMetrics(pushStates ...string) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend, err := metrics.NewBackendMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend metrics: %w", err)
	}
	push, err := metrics.NewPushMetrics(registry, pushStates...)
	if err != nil {
		return nil, fmt.Errorf("failed to create push metrics: %w", err)
	}
	notifications, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return &Metrics{
		registry:      registry,
		Backend:       backend,
		Push:          push,
		Notifications: notifications,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
