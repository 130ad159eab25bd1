package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

const testBaseURL = "https://hr.test/api"

func newMockedClient(t *testing.T, cfg Config) (*HTTPClient, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBaseURL
	}
	cfg.Transport = mt
	c, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, mt
}

func TestFetchUnread_Success(t *testing.T) {
	t.Parallel()

	c, mt := newMockedClient(t, Config{SessionToken: "tok", SessionCookie: "JSESSIONID=abc"})
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/notifications/unread",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			assert.Equal(t, "JSESSIONID=abc", req.Header.Get("Cookie"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"unreadNotifications": [
					{"id": "a", "message": "Contract renewed", "timestamp": "2024-05-01T09:00:00Z", "isRead": false},
					{"id": 17, "message": "Shift swapped", "timestamp": 1714554000000, "isRead": false}
				],
				"unreadCount": 2
			}`), nil
		})

	out, err := c.FetchUnread(t.Context())
	require.NoError(t, err)

	require.Len(t, out.Notifications, 2)
	assert.Equal(t, 2, out.UnreadCount)
	assert.Equal(t, "a", out.Notifications[0].ID)
	assert.Equal(t, "Contract renewed", out.Notifications[0].Message)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), out.Notifications[0].Timestamp.UTC())
	assert.Equal(t, "17", out.Notifications[1].ID)
	assert.Equal(t, time.UnixMilli(1714554000000).UTC(), out.Notifications[1].Timestamp)

	assert.Equal(t, 1, mt.GetCallCountInfo()["GET "+testBaseURL+"/notifications/unread"])
}

func TestFetchUnread_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
		category  errors.ErrorCategory
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom"), errors.CategoryHTTP},
		{"unauthorized", httpmock.NewStringResponder(http.StatusUnauthorized, ""), errors.CategoryHTTP},
		{"transport", httpmock.NewErrorResponder(errors.NewStd("connection refused")), errors.CategoryNetwork},
		{"bad json", httpmock.NewStringResponder(http.StatusOK, "{not json"), errors.CategoryFileParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, mt := newMockedClient(t, Config{})
			mt.RegisterResponder(http.MethodGet, testBaseURL+"/notifications/unread", tt.responder)

			out, err := c.FetchUnread(t.Context())
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestFetchUnread_HTTPErrorDetails(t *testing.T) {
	t.Parallel()

	c, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/notifications/unread",
		httpmock.NewStringResponder(http.StatusForbidden, "denied for Bearer secret.value"))

	_, err := c.FetchUnread(t.Context())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "denied for Bearer [REDACTED]", httpErr.Message)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestFetchUnread_Cancelled(t *testing.T) {
	t.Parallel()

	c, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/notifications/unread",
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := c.FetchUnread(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	c, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodPatch, testBaseURL+"/notifications/n-1/read",
		httpmock.NewStringResponder(http.StatusNoContent, ""))
	mt.RegisterResponder(http.MethodPatch, testBaseURL+"/notifications/gone/read",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"not found"}`))

	require.NoError(t, c.MarkRead(t.Context(), "n-1"))

	err := c.MarkRead(t.Context(), "gone")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "gone", ee.GetContext()["notification_id"])
}

func TestNew_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "not a url"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{`"2024-05-01T09:00:00Z"`, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), true},
		{`"2024-05-01T09:00:00.123"`, time.Date(2024, 5, 1, 9, 0, 0, 123_000_000, time.UTC), true},
		{`1714554000`, time.Unix(1714554000, 0).UTC(), true},
		{`"1714554000000"`, time.UnixMilli(1714554000000).UTC(), true},
		{`null`, time.Time{}, false},
		{``, time.Time{}, false},
		{`"yesterday"`, time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseTimestamp(json.RawMessage(tt.raw))
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.raw, got)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", ParseID(json.RawMessage(`"abc"`)))
	assert.Equal(t, "42", ParseID(json.RawMessage(`42`)))
	assert.Empty(t, ParseID(json.RawMessage(`null`)))
	assert.Empty(t, ParseID(nil))
	assert.Empty(t, ParseID(json.RawMessage(`{"x":1}`)))
}

func requestCount(t *testing.T, m *metrics.BackendMetrics, op, status string) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.RequestsTotal.WithLabelValues(op, status).Write(&out))
	return out.GetCounter().GetValue()
}

func TestRequestMetrics(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewBackendMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	c, mt := newMockedClient(t, Config{Metrics: m})
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/notifications/unread",
		httpmock.NewStringResponder(http.StatusOK, `{"unreadNotifications":[],"unreadCount":0}`))
	mt.RegisterResponder(http.MethodPatch, testBaseURL+"/notifications/a/read",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	mt.RegisterResponder(http.MethodPatch, testBaseURL+"/notifications/b/read",
		httpmock.NewErrorResponder(assert.AnError))

	_, err = c.FetchUnread(t.Context())
	require.NoError(t, err)
	require.Error(t, c.MarkRead(t.Context(), "a"))
	require.Error(t, c.MarkRead(t.Context(), "b"))

	assert.InDelta(t, 1, requestCount(t, m, metrics.OpFetchUnread, "200"), 0)
	assert.InDelta(t, 1, requestCount(t, m, metrics.OpMarkRead, "500"), 0)
	assert.InDelta(t, 1, requestCount(t, m, metrics.OpMarkRead, metrics.ResultError), 0)
}
