package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

func findFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestPushConnectionStateGauge(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics("disconnected", "connecting", "connected", "subscribed")
	require.NoError(t, err)

	m.Push.SetState("connecting", false)
	m.Push.SetState("subscribed", true)

	family := findFamily(t, m, "notifyd_push_connection_state")
	require.Len(t, family.GetMetric(), 4)
	for _, metric := range family.GetMetric() {
		want := 0.0
		if labelValue(metric, "state") == "subscribed" {
			want = 1
		}
		assert.InDelta(t, want, metric.GetGauge().GetValue(), 0, labelValue(metric, "state"))
	}

	last := findFamily(t, m, "notifyd_push_last_subscribe_time_seconds")
	assert.Positive(t, last.GetMetric()[0].GetGauge().GetValue())
}

func TestBackendRequestLabels(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Backend.RecordRequest(metrics.OpMarkRead, http.StatusOK, 20*time.Millisecond)
	m.Backend.RecordRequest(metrics.OpMarkRead, 0, time.Millisecond)

	family := findFamily(t, m, "notifyd_backend_requests_total")
	got := map[string]float64{}
	for _, metric := range family.GetMetric() {
		got[labelValue(metric, "status")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"200": 1, "error": 1}, got)
}

func TestNilCollectorsAreSafe(t *testing.T) {
	t.Parallel()

	var b *metrics.BackendMetrics
	var p *metrics.PushMetrics
	var n *metrics.NotificationMetrics

	assert.NotPanics(t, func() {
		b.RecordRequest(metrics.OpFetchUnread, 200, time.Second)
		p.SetState("connected", false)
		p.IncrementReconnectAttempts()
		p.IncrementErrors("connect")
		p.ObserveMessage(metrics.PushAccepted, 10)
		n.ObserveState(1, 2, 0)
		n.RecordMarkRead(metrics.ResultSuccess)
		n.RecordRefresh(metrics.ResultCoalesce)
	})
}

func TestHandlerExposition(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics("subscribed")
	require.NoError(t, err)
	m.Notifications.ObserveState(3, 5, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "notifyd_unseen_count 3")
	assert.Contains(t, string(body), "notifyd_pending_reads 1")
}
