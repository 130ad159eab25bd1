package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client := New(nil)
		require.NotNil(t, client)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		client := New(&Config{})
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.NotEmpty(t, client.userAgent)
	})

	t.Run("headers are copied", func(t *testing.T) {
		headers := http.Header{"Authorization": {"Bearer a"}}
		client := New(&Config{Headers: headers})
		headers.Set("Authorization", "Bearer b")
		assert.Equal(t, "Bearer a", client.headers.Get("Authorization"))
	})
}

func TestDo_SessionHeaders(t *testing.T) {
	var gotAuth, gotCookie, gotUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClientWithConfig(t, &Config{
		UserAgent: "notifyd-test/1.0",
		Headers: http.Header{
			"Authorization": {"Bearer tok"},
			"Cookie":        {"JSESSIONID=abc"},
		},
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "JSESSIONID=abc", gotCookie)
	assert.Equal(t, "notifyd-test/1.0", gotUA)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer override")
	resp, err = client.Do(t.Context(), req)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "Bearer override", gotAuth, "explicit request header wins")
}

func TestDo_BodyReadableUnderDefaultTimeout(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"unreadCount":2}`))
	})

	client := newTestClientWithConfig(t, &Config{DefaultTimeout: time.Second})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"unreadCount":2}`, string(body))
}

func TestDo_ContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	resp, err := client.Get(ctx, server.URL)
	closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_DefaultTimeout(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	resp, err := client.Get(t.Context(), server.URL)
	closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_Hooks(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t)

	var after atomic.Int32
	var status atomic.Int32
	client.SetAfterResponseHook(func(r *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		after.Add(1)
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
		status.Store(int32(resp.StatusCode))
	})

	resp, err := client.Patch(t.Context(), server.URL, "", nil)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(http.StatusNoContent), status.Load())

	// Transport errors reach the hook with a nil response.
	var failed atomic.Bool
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, _ time.Duration) {
		failed.Store(err != nil && resp == nil)
	})
	_, err = client.Get(t.Context(), "http://127.0.0.1:1")
	require.Error(t, err)
	assert.True(t, failed.Load())
}

func TestPatch_JSONBody(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["isRead"])
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t)

	resp, err := client.Patch(t.Context(), server.URL, "", map[string]bool{"isRead": true})
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_NilRequest(t *testing.T) {
	client := newTestClient(t)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	client := New(nil)
	client.Close()
	client.Close()
}
