package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrconsole/notifyd/internal/errors"
)

// mockTransport implements sentry.Transport and records events.
type mockTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *mockTransport) Configure(sentry.ClientOptions) {} //nolint:gocritic // interface signature

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *mockTransport) Flush(time.Duration) bool { return true }

func (t *mockTransport) FlushWithContext(context.Context) bool { return true }

func (t *mockTransport) Close() {}

func (t *mockTransport) captured() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

const testDSN = "https://public@sentry.example.com/1"

func newTestReporter(t *testing.T) (*Reporter, *mockTransport) {
	t.Helper()
	tr := &mockTransport{}
	r, err := New(Config{DSN: testDSN, Environment: "test", Transport: tr})
	require.NoError(t, err)
	return r, tr
}

func buildError(msg string, category errors.ErrorCategory) *errors.EnhancedError {
	return errors.Newf("%s", msg).
		Component("backend").
		Category(category).
		Priority(errors.PriorityHigh).
		Context("notification_id", "n-1").
		Context("session_token", "abc").
		Build()
}

func TestNew_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestReportError_SendsScrubbedEvent(t *testing.T) {
	t.Parallel()

	r, tr := newTestReporter(t)
	ee := buildError("request failed: Bearer abcdefghijklmnop", errors.CategoryHTTP)

	r.ReportError(ee)
	r.Flush(time.Second)

	events := tr.captured()
	require.Len(t, events, 1)
	ev := events[0]

	assert.Contains(t, ev.Message, "[http-request]")
	assert.NotContains(t, ev.Message, "abcdefghijklmnop")
	assert.Equal(t, sentry.LevelError, ev.Level)
	assert.Equal(t, "backend", ev.Tags["component"])
	assert.Equal(t, "http-request", ev.Tags["category"])
	assert.Equal(t, "test", ev.Environment)
	assert.Empty(t, ev.ServerName)

	errCtx := ev.Contexts["error"]
	assert.Equal(t, "n-1", errCtx["notification_id"])
	assert.Equal(t, "[REDACTED]", errCtx["session_token"])
	assert.True(t, ee.IsReported())
}

func TestReportError_Deduplicates(t *testing.T) {
	t.Parallel()

	r, tr := newTestReporter(t)
	r.ReportError(buildError("broker unreachable", errors.CategoryBrokerConnection))
	r.ReportError(buildError("broker unreachable", errors.CategoryBrokerConnection))
	r.ReportError(buildError("broker refused", errors.CategoryBrokerConnection))

	assert.Len(t, tr.captured(), 2)
}

func TestReportError_SkipsExpectedCategories(t *testing.T) {
	t.Parallel()

	r, tr := newTestReporter(t)
	r.ReportError(buildError("context canceled", errors.CategoryCancellation))
	r.ReportError(buildError("bad input", errors.CategoryValidation))
	r.ReportError(nil)

	already := buildError("reported elsewhere", errors.CategoryNetwork)
	already.MarkReported()
	r.ReportError(already)

	assert.Empty(t, tr.captured())
}

func TestLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sentry.LevelFatal, level(errors.PriorityCritical))
	assert.Equal(t, sentry.LevelError, level(errors.PriorityHigh))
	assert.Equal(t, sentry.LevelWarning, level(errors.PriorityMedium))
	assert.Equal(t, sentry.LevelInfo, level(errors.PriorityLow))
	assert.Equal(t, sentry.LevelWarning, level(""))
}
