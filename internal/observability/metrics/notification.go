package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics covers the read-state engine.
type NotificationMetrics struct {
	UnseenCount  prometheus.Gauge
	Entries      prometheus.Gauge
	MarkReads    *prometheus.CounterVec // by result
	Refreshes    *prometheus.CounterVec // by result
	PendingReads prometheus.Gauge
}

// NewNotificationMetrics creates and registers the engine collectors.
func NewNotificationMetrics(registry prometheus.Registerer) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		UnseenCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unseen_count",
			Help:      "Currently published unseen notification count",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications",
			Help:      "Notifications held in the local list",
		}),
		MarkReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mark_read_total",
			Help:      "Mark-read attempts by result",
		}, []string{"result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_refresh_total",
			Help:      "Snapshot refreshes by result",
		}, []string{"result"}),
		PendingReads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_reads",
			Help:      "Optimistic reads awaiting backend confirmation",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// ObserveState publishes the engine's current totals. Safe on a nil receiver.
func (m *NotificationMetrics) ObserveState(unseen, entries, pending int) {
	if m == nil {
		return
	}
	m.UnseenCount.Set(float64(unseen))
	m.Entries.Set(float64(entries))
	m.PendingReads.Set(float64(pending))
}

// RecordMarkRead counts a mark-read outcome. Safe on a nil receiver.
func (m *NotificationMetrics) RecordMarkRead(result string) {
	if m == nil {
		return
	}
	m.MarkReads.WithLabelValues(result).Inc()
}

// RecordRefresh counts a refresh outcome. Safe on a nil receiver.
func (m *NotificationMetrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.UnseenCount
	ch <- m.Entries
	ch <- m.PendingReads
	m.MarkReads.Collect(ch)
	m.Refreshes.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.UnseenCount.Desc()
	ch <- m.Entries.Desc()
	ch <- m.PendingReads.Desc()
	m.MarkReads.Describe(ch)
	m.Refreshes.Describe(ch)
}
