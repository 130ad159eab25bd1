package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrconsole/notifyd/internal/backend"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/notification"
	"github.com/hrconsole/notifyd/internal/observability"
	"github.com/hrconsole/notifyd/internal/push"
	"github.com/hrconsole/notifyd/internal/testutil"
	"github.com/hrconsole/notifyd/internal/unseen"
)

type fakeBackend struct {
	mu       sync.Mutex
	snapshot *backend.UnreadResponse
	fetchErr error
	markErr  map[string]error
}

func (f *fakeBackend) FetchUnread(context.Context) (*backend.UnreadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.snapshot, nil
}

func (f *fakeBackend) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markErr[id]
}

type fakePush struct{ status push.Status }

func (p fakePush) Status() push.Status { return p.status }

func note(id string) backend.Notification {
	return backend.Notification{
		ID:        id,
		Message:   "message " + id,
		Timestamp: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
}

type fixture struct {
	echo    *echo.Echo
	ctrl    *Controller
	engine  *notification.Engine
	store   *unseen.Store
	backend *fakeBackend
}

// newFixture builds a controller over a real engine loaded with a, b and c.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	fb := &fakeBackend{
		snapshot: &backend.UnreadResponse{
			Notifications: []backend.Notification{note("a"), note("b"), note("c")},
			UnreadCount:   3,
		},
		markErr: map[string]error{},
	}
	store := unseen.New()
	engine, err := notification.New(notification.Config{Backend: fb, Count: store})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	_, err = engine.Refresh(t.Context())
	require.NoError(t, err)

	e := echo.New()
	ctrl := New(e, engine, store, append([]Option{WithRefreshRate(0)}, opts...)...)
	t.Cleanup(ctrl.Shutdown)

	return &fixture{echo: e, ctrl: ctrl, engine: engine, store: store, backend: fb}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetUnseenCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/unseen")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unseenCount":3}`, rec.Body.String())
}

func TestListNotifications(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.MarkRead(t.Context(), "b"))

	rec := f.do(t, http.MethodGet, "/api/v1/notifications")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[ListResponse](t, rec)
	require.Len(t, all.Notifications, 3)
	assert.Equal(t, 2, all.UnseenCount)
	assert.True(t, all.Notifications[1].IsRead)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications?unread=true")
	require.Equal(t, http.StatusOK, rec.Code)
	unreadOnly := decode[ListResponse](t, rec)
	require.Len(t, unreadOnly.Notifications, 2)
	assert.Equal(t, "a", unreadOnly.Notifications[0].ID)
	assert.Equal(t, "c", unreadOnly.Notifications[1].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications?unread=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/notifications/b")
	require.Equal(t, http.StatusOK, rec.Code)
	n := decode[notification.Notification](t, rec)
	assert.Equal(t, "message b", n.Message)
	assert.Equal(t, notification.StateUnread, n.State)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/a/read")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ReadResponse](t, rec)
		require.NotNil(t, resp.Notification)
		assert.True(t, resp.Notification.IsRead)
		assert.Equal(t, notification.StateRead, resp.Notification.State)
		assert.Equal(t, 2, resp.UnseenCount)
		assert.Equal(t, 2, f.store.Get())
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/zzz/read")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, 3, f.store.Get())
	})

	t.Run("backend rejects", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.backend.markErr["b"] = errors.NewStd("403 forbidden")

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/b/read")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "403 forbidden")
		assert.Equal(t, 3, f.store.Get())

		n, ok := f.engine.Get("b")
		require.True(t, ok)
		assert.Equal(t, notification.StateRollbackFailed, n.State)
	})

	t.Run("engine closed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.engine.Close()

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/a/read")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.markErr["b"] = errors.NewStd("conflict")

	rec := f.do(t, http.MethodPost, "/api/v1/notifications/read-all")
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ReadAllFailure](t, rec)
	assert.Equal(t, []string{"b"}, resp.Failed)
	assert.Equal(t, 1, resp.UnseenCount)

	f.backend.mu.Lock()
	delete(f.backend.markErr, "b")
	f.backend.mu.Unlock()

	rec = f.do(t, http.MethodPost, "/api/v1/notifications/read-all")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ReadResponse](t, rec).UnseenCount)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	t.Run("returns snapshot", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.backend.mu.Lock()
		f.backend.snapshot = &backend.UnreadResponse{
			Notifications: []backend.Notification{note("c")},
			UnreadCount:   1,
		}
		f.backend.mu.Unlock()

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/refresh")
		require.Equal(t, http.StatusOK, rec.Code)
		snap := decode[notification.Snapshot](t, rec)
		assert.Equal(t, 1, snap.UnreadCount)
		require.Len(t, snap.Notifications, 1)
		assert.Equal(t, 1, f.store.Get())
	})

	t.Run("backend failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.backend.mu.Lock()
		f.backend.fetchErr = errors.NewStd("connection refused")
		f.backend.mu.Unlock()

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/refresh")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, 3, f.store.Get())
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithRefreshRate(0.001))

		rec := f.do(t, http.MethodPost, "/api/v1/notifications/refresh")
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodPost, "/api/v1/notifications/refresh")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})
}

func TestGetPushStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/push/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"disabled"}`, rec.Body.String())

	f = newFixture(t, WithPushStatus(fakePush{status: push.Status{
		State:     push.StateSubscribed,
		Transport: "mqtt",
		Topic:     "hr/acme/staff/42/notifications",
		Attempts:  2,
	}}))
	rec = f.do(t, http.MethodGet, "/api/v1/push/status")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[push.Status](t, rec)
	assert.Equal(t, push.StateSubscribed, status.State)
	assert.Equal(t, 2, status.Attempts)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics(push.States()...)
	require.NoError(t, err)
	f := newFixture(t, WithMetrics(m))

	rec := f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses an event stream until EOF.
func readEvents(body *bufio.Reader, out chan<- sseEvent) {
	defer close(out)
	var ev sseEvent
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func next(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	return testutil.Receive(t, events, testutil.DefaultTestTimeout, "timed out waiting for event")
}

func TestStreamNotifications(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithHeartbeat(50*time.Millisecond))
	srv := httptest.NewServer(f.echo)
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/api/v1/notifications/stream", http.NoBody)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	go readEvents(bufio.NewReader(resp.Body), events)

	connected := next(t, events)
	assert.Equal(t, EventConnected, connected.name)
	assert.Contains(t, connected.data, "clientId")

	initial := next(t, events)
	assert.Equal(t, EventUnseen, initial.name)
	assert.JSONEq(t, `{"unseenCount":3}`, initial.data)

	require.True(t, f.engine.HandlePush([]byte(`{"id":"d","message":"Leave approved"}`)))

	var sawAdded, sawCount, sawHeartbeat bool
	deadline := time.After(2 * time.Second)
	for !sawAdded || !sawCount || !sawHeartbeat {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			switch ev.name {
			case EventNotification:
				var got notification.Event
				require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
				assert.Equal(t, notification.EventAdded, got.Type)
				assert.Equal(t, "d", got.Notification.ID)
				assert.Equal(t, 4, got.UnseenCount)
				sawAdded = true
			case EventUnseen:
				assert.JSONEq(t, `{"unseenCount":4}`, ev.data)
				sawCount = true
			case EventHeartbeat:
				sawHeartbeat = true
			}
		case <-deadline:
			t.Fatalf("missing events: added=%v count=%v heartbeat=%v", sawAdded, sawCount, sawHeartbeat)
		}
	}

	f.ctrl.Shutdown()
	for range events {
	}
}
