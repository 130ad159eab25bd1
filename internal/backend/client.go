// Package backend is the REST client for the HR backend notification endpoints.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/httpclient"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

const (
	componentName = "backend"

	unreadPath   = "/notifications/unread"
	markReadPath = "/notifications/%s/read"

	// maxErrorBody bounds how much of a failed response is kept in HTTPError.
	maxErrorBody = 512
	maxBody      = 4 << 20
)

// ErrUnexpectedStatus matches every *HTTPError via errors.Is.
var ErrUnexpectedStatus = errors.NewStd("unexpected backend status")

// HTTPError carries a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is reports ErrUnexpectedStatus as a match.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Client is what the notification engine needs from the backend.
type Client interface {
	// FetchUnread returns the authoritative unread snapshot.
	FetchUnread(ctx context.Context) (*UnreadResponse, error)
	// MarkRead confirms a read on the server. Any non-2xx status is an error.
	MarkRead(ctx context.Context, id string) error
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	SessionToken  string // Authorization: Bearer
	SessionCookie string // Cookie
	UserAgent     string
	Transport     http.RoundTripper // optional, for tests
	Metrics       *metrics.BackendMetrics
}

// HTTPClient implements Client over internal/httpclient.
type HTTPClient struct {
	http    *httpclient.Client
	baseURL string
	log     logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// New creates a backend client.
func New(cfg Config, log logger.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, errors.Newf("invalid backend base URL %q", cfg.BaseURL).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewDiscard()
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if cfg.SessionToken != "" {
		headers.Set("Authorization", "Bearer "+cfg.SessionToken)
	}
	if cfg.SessionCookie != "" {
		headers.Set("Cookie", cfg.SessionCookie)
	}

	hc := httpclient.New(&httpclient.Config{
		DefaultTimeout: cfg.Timeout,
		UserAgent:      cfg.UserAgent,
		Headers:        headers,
		Transport:      cfg.Transport,
	})
	if cfg.Metrics != nil {
		hc.SetAfterResponseHook(recordRequest(cfg.Metrics))
	}

	return &HTTPClient{
		http:    hc,
		baseURL: base,
		log:     log.Module(componentName),
	}, nil
}

// recordRequest reports every backend round trip. Transport failures are
// recorded with status 0.
func recordRequest(m *metrics.BackendMetrics) httpclient.ResponseHook {
	return func(req *http.Request, resp *http.Response, _ error, elapsed time.Duration) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.RecordRequest(operation(req), status, elapsed)
	}
}

// operation names the endpoint a request targets.
func operation(req *http.Request) string {
	if req.Method == http.MethodPatch {
		return metrics.OpMarkRead
	}
	return metrics.OpFetchUnread
}

// FetchUnread calls GET /notifications/unread.
func (c *HTTPClient) FetchUnread(ctx context.Context) (*UnreadResponse, error) {
	start := time.Now()
	resp, err := c.http.Get(ctx, c.baseURL+unreadPath)
	if err != nil {
		return nil, c.transportError(err, metrics.OpFetchUnread, "")
	}
	defer closeBody(resp)

	if err := checkStatus(resp); err != nil {
		return nil, c.statusError(err, metrics.OpFetchUnread, "")
	}

	var out UnreadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil {
		return nil, errors.New(fmt.Errorf("decoding unread notifications: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileParsing).
			Context("operation", metrics.OpFetchUnread).
			Build()
	}

	c.log.Debug("fetched unread notifications",
		logger.Int("entries", len(out.Notifications)),
		logger.Int("unread_count", out.UnreadCount),
		logger.Duration("elapsed", time.Since(start)))
	return &out, nil
}

// MarkRead calls PATCH /notifications/{id}/read.
func (c *HTTPClient) MarkRead(ctx context.Context, id string) error {
	endpoint := c.baseURL + fmt.Sprintf(markReadPath, url.PathEscape(id))
	resp, err := c.http.Patch(ctx, endpoint, "", nil)
	if err != nil {
		return c.transportError(err, metrics.OpMarkRead, id)
	}
	defer closeBody(resp)

	if err := checkStatus(resp); err != nil {
		return c.statusError(err, metrics.OpMarkRead, id)
	}
	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.http.Close()
}

func (c *HTTPClient) transportError(err error, op, id string) error {
	category := errors.CategoryNetwork
	switch {
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	case errors.Is(err, context.DeadlineExceeded):
		category = errors.CategoryTimeout
	}
	b := errors.New(err).
		Component(componentName).
		Category(category).
		Context("operation", op)
	if id != "" {
		b = b.Context("notification_id", id)
	}
	return b.Build()
}

func (c *HTTPClient) statusError(err *HTTPError, op, id string) error {
	b := errors.New(err).
		Component(componentName).
		Category(errors.CategoryHTTP).
		Context("operation", op).
		Context("status", err.StatusCode)
	if id != "" {
		b = b.Context("notification_id", id)
	}
	return b.Build()
}

func checkStatus(resp *http.Response) *HTTPError {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    logger.RedactSensitiveData(strings.TrimSpace(string(data))),
	}
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
