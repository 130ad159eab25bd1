package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PushMetrics contains Prometheus metrics for the live push channel.
type PushMetrics struct {
	ConnectionState   *prometheus.GaugeVec // 1 for the current state, 0 otherwise
	ReconnectAttempts prometheus.Counter
	Errors            *prometheus.CounterVec // by stage: connect, subscribe, read
	MessagesReceived  *prometheus.CounterVec // by outcome
	MessageSize       prometheus.Histogram
	LastConnectTime   prometheus.Gauge

	states []string
}

// NewPushMetrics creates and registers the push collectors. states lists every
// connection state name so that all gauge series exist from the start.
func NewPushMetrics(registry prometheus.Registerer, states ...string) (*PushMetrics, error) {
	m := &PushMetrics{states: states}
	m.ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "push_connection_state",
		Help:      "Push channel connection state (1 for the current state)",
	}, []string{"state"})
	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_reconnect_attempts_total",
		Help:      "Connection attempts made after the first one",
	})
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_errors_total",
		Help:      "Push channel failures by stage",
	}, []string{"stage"})
	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_messages_total",
		Help:      "Push messages received by outcome",
	}, []string{"outcome"})
	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "push_message_size_bytes",
		Help:      "Size of push payloads in bytes",
		Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
	})
	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "push_last_subscribe_time_seconds",
		Help:      "Unix time of the last successful subscription",
	})

	for _, s := range states {
		m.ConnectionState.WithLabelValues(s).Set(0)
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register push metrics: %w", err)
	}
	return m, nil
}

// SetState marks state as current. Safe on a nil receiver.
func (m *PushMetrics) SetState(state string, subscribed bool) {
	if m == nil {
		return
	}
	for _, s := range m.states {
		m.ConnectionState.WithLabelValues(s).Set(0)
	}
	m.ConnectionState.WithLabelValues(state).Set(1)
	if subscribed {
		m.LastConnectTime.SetToCurrentTime()
	}
}

// IncrementReconnectAttempts counts a retry. Safe on a nil receiver.
func (m *PushMetrics) IncrementReconnectAttempts() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// IncrementErrors counts a failure at stage. Safe on a nil receiver.
func (m *PushMetrics) IncrementErrors(stage string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(stage).Inc()
}

// ObserveMessage records a received payload. Safe on a nil receiver.
func (m *PushMetrics) ObserveMessage(outcome string, sizeBytes int) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(outcome).Inc()
	m.MessageSize.Observe(float64(sizeBytes))
}

// Collect implements the prometheus.Collector interface.
func (m *PushMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionState.Collect(ch)
	ch <- m.ReconnectAttempts
	m.Errors.Collect(ch)
	m.MessagesReceived.Collect(ch)
	ch <- m.MessageSize
	ch <- m.LastConnectTime
}

// Describe implements the prometheus.Collector interface.
func (m *PushMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionState.Describe(ch)
	ch <- m.ReconnectAttempts.Desc()
	m.Errors.Describe(ch)
	m.MessagesReceived.Describe(ch)
	ch <- m.MessageSize.Desc()
	ch <- m.LastConnectTime.Desc()
}
