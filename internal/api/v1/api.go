// Package api is the local v1 HTTP API: the notification list, read actions,
// the unseen count and a server-sent event stream of changes.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/notification"
	"github.com/hrconsole/notifyd/internal/observability"
	"github.com/hrconsole/notifyd/internal/push"
	"github.com/hrconsole/notifyd/internal/unseen"
)

const (
	// DefaultHeartbeat is the SSE keep-alive interval.
	DefaultHeartbeat = 30 * time.Second
	// DefaultRefreshRate bounds manual refreshes per second.
	DefaultRefreshRate = rate.Limit(0.2)
)

// Notifier is the engine surface the API drives.
type Notifier interface {
	Notifications() []notification.Notification
	Get(id string) (notification.Notification, bool)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Refresh(ctx context.Context) (notification.Snapshot, error)
	Subscribe() (<-chan notification.Event, func())
}

// PushStatus reports the live channel state.
type PushStatus interface {
	Status() push.Status
}

// Controller serves the v1 routes.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	notifier  Notifier
	count     unseen.Reader
	push      PushStatus
	metrics   *observability.Metrics
	limiter   *rate.Limiter
	log       logger.Logger
	heartbeat time.Duration
	startTime time.Time

	done     chan struct{}
	shutdown sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithPushStatus exposes the push channel state on /push/status.
func WithPushStatus(p PushStatus) Option {
	return func(c *Controller) { c.push = p }
}

// WithMetrics mounts the Prometheus handler on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRefreshRate limits manual refreshes to limit per second with a burst
// of one. A non-positive limit removes the restriction.
func WithRefreshRate(limit rate.Limit) Option {
	return func(c *Controller) {
		if limit <= 0 {
			limit = rate.Inf
		}
		c.limiter = rate.NewLimiter(limit, 1)
	}
}

// WithLogger sets the controller logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// New registers the v1 routes on e.
func New(e *echo.Echo, notifier Notifier, count unseen.Reader, opts ...Option) *Controller {
	c := &Controller{
		Echo:      e,
		notifier:  notifier,
		count:     count,
		limiter:   rate.NewLimiter(DefaultRefreshRate, 1),
		log:       logger.NewDiscard(),
		heartbeat: DefaultHeartbeat,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Module("api")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Echo.GET("/health", c.HealthCheck)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	c.Group = c.Echo.Group("/api/v1")
	c.Group.GET("/unseen", c.GetUnseenCount)
	c.Group.GET("/push/status", c.GetPushStatus)

	n := c.Group.Group("/notifications")
	n.GET("", c.ListNotifications)
	n.GET("/stream", c.StreamNotifications)
	n.POST("/read-all", c.MarkAllRead)
	n.POST("/refresh", c.Refresh)
	n.GET("/:id", c.GetNotification)
	n.POST("/:id/read", c.MarkRead)
}

// Shutdown ends open event streams so the HTTP server can drain.
func (c *Controller) Shutdown() {
	c.shutdown.Do(func() { close(c.done) })
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HandleError logs err and writes an ErrorResponse.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{Message: message, Code: code}
	if err != nil {
		resp.Error = logger.RedactSensitiveData(err.Error())
	}

	fields := []logger.Field{
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.Int("code", code),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error(message, fields...)
	} else {
		c.log.Debug(message, fields...)
	}
	return ctx.JSON(code, resp)
}

// HealthCheck reports liveness.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(c.startTime).Round(time.Second).String(),
	})
}

// GetPushStatus returns the live channel state, or "disabled" when push is
// not configured.
func (c *Controller) GetPushStatus(ctx echo.Context) error {
	if c.push == nil {
		return ctx.JSON(http.StatusOK, map[string]string{"state": "disabled"})
	}
	return ctx.JSON(http.StatusOK, c.push.Status())
}
