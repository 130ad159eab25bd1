package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hrconsole/notifyd/internal/logger"
)

const sseWriteTimeout = 10 * time.Second

// SSE event names.
const (
	EventConnected    = "connected"
	EventUnseen       = "unseen"
	EventNotification = "notification"
	EventHeartbeat    = "heartbeat"
)

// StreamNotifications streams changes as server-sent events:
//
//	connected     once, with the client id
//	unseen        the current count, then every change
//	notification  every engine event (added, updated, snapshot)
//	heartbeat     every heartbeat interval
//
// The stream ends when the client disconnects, the engine closes or the
// controller shuts down.
func (c *Controller) StreamNotifications(ctx echo.Context) error {
	events, stopEvents := c.notifier.Subscribe()
	defer stopEvents()
	counts, stopCounts := c.count.Subscribe()
	defer stopCounts()

	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)

	clientID := uuid.NewString()
	log := c.log.With(logger.String("client_id", clientID))
	log.Debug("stream opened", logger.String("ip", ctx.RealIP()))
	defer log.Debug("stream closed")

	if err := c.sendSSE(ctx, EventConnected, map[string]any{
		"clientId":  clientID,
		"timestamp": time.Now().UTC(),
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	done := ctx.Request().Context().Done()

	for {
		var err error
		select {
		case <-done:
			return nil
		case <-c.done:
			return nil
		case n, ok := <-counts:
			if !ok {
				counts = nil
				continue
			}
			err = c.sendSSE(ctx, EventUnseen, map[string]int{"unseenCount": n})
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			err = c.sendSSE(ctx, EventNotification, ev)
		case <-ticker.C:
			err = c.sendSSE(ctx, EventHeartbeat, map[string]int64{"timestamp": time.Now().Unix()})
		}
		if err != nil {
			log.Debug("stream write failed", logger.Error(err))
			return nil
		}
	}
}

// sendSSE writes one event and flushes it.
func (c *Controller) sendSSE(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}

	w := ctx.Response()
	// Not every writer supports deadlines; httptest recorders do not.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
