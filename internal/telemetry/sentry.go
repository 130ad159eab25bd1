// Package telemetry reports enhanced errors to Sentry. Reporting is opt-in
// and every message is scrubbed of credentials before it leaves the process.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/patrickmn/go-cache"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
)

// DefaultDedupeWindow suppresses repeats of the same error.
const DefaultDedupeWindow = 5 * time.Minute

// Config configures the Sentry reporter.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Debug       bool
	// DedupeWindow drops repeats of the same component, category and
	// message within the window. Zero selects DefaultDedupeWindow.
	DedupeWindow time.Duration
	// Transport overrides the Sentry HTTP transport, for tests.
	Transport sentry.Transport
}

// skipped categories are expected outcomes, not faults.
var skipped = map[errors.ErrorCategory]bool{
	errors.CategoryCancellation: true,
	errors.CategoryValidation:   true,
	errors.CategoryNotFound:     true,
}

// Reporter implements errors.TelemetryReporter on a private Sentry hub.
type Reporter struct {
	hub    *sentry.Hub
	recent *cache.Cache
}

var _ errors.TelemetryReporter = (*Reporter)(nil)

// New creates a Reporter. It does not install itself; pass it to
// errors.SetTelemetryReporter.
func New(cfg Config) (*Reporter, error) {
	if cfg.DSN == "" {
		return nil, errors.Newf("telemetry requires a DSN").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = DefaultDedupeWindow
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       cfg.SampleRate,
		Debug:            cfg.Debug,
		AttachStacktrace: false,
		SendDefaultPII:   false,
		Transport:        cfg.Transport,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}

	scope := sentry.NewScope()
	scope.SetTag("os", runtime.GOOS)
	scope.SetTag("arch", runtime.GOARCH)

	return &Reporter{
		hub:    sentry.NewHub(client, scope),
		recent: cache.New(window, 0),
	}, nil
}

// IsEnabled implements errors.TelemetryReporter.
func (r *Reporter) IsEnabled() bool { return r != nil && r.hub != nil }

// ReportError implements errors.TelemetryReporter.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() || ee == nil || ee.IsReported() || skipped[ee.Category] {
		return
	}

	message := fmt.Sprintf("[%s] %s", ee.Category, logger.RedactSensitiveData(ee.Error()))
	key := ee.Component + "|" + string(ee.Category) + "|" + message
	if _, seen := r.recent.Get(key); seen {
		return
	}
	r.recent.SetDefault(key, struct{}{})

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level(ee.Priority))
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		if ctx := ee.GetContext(); len(ctx) > 0 {
			scrubbed := make(sentry.Context, len(ctx))
			for k, v := range ctx {
				if logger.IsSensitiveKey(k) {
					scrubbed[k] = "[REDACTED]"
					continue
				}
				scrubbed[k] = v
			}
			scope.SetContext("error", scrubbed)
		}
		r.hub.CaptureMessage(message)
	})
	ee.MarkReported()
}

// Flush waits up to timeout for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.IsEnabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

func level(priority string) sentry.Level {
	switch priority {
	case errors.PriorityCritical:
		return sentry.LevelFatal
	case errors.PriorityHigh:
		return sentry.LevelError
	case errors.PriorityLow:
		return sentry.LevelInfo
	default:
		return sentry.LevelWarning
	}
}

func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.Message = logger.RedactSensitiveData(event.Message)
	event.ServerName = ""
	event.User = sentry.User{}
	for i := range event.Exception {
		event.Exception[i].Value = logger.RedactSensitiveData(event.Exception[i].Value)
	}
	return event
}
