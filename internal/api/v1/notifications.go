package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/notification"
)

// ListResponse is the body of GET /notifications.
type ListResponse struct {
	Notifications []notification.Notification `json:"notifications"`
	UnseenCount   int                         `json:"unseenCount"`
}

// ReadResponse is the body of a successful read action.
type ReadResponse struct {
	Notification *notification.Notification `json:"notification,omitempty"`
	UnseenCount  int                        `json:"unseenCount"`
}

// ReadAllFailure lists the ids MarkAllRead could not confirm.
type ReadAllFailure struct {
	ErrorResponse
	Failed      []string `json:"failed"`
	UnseenCount int      `json:"unseenCount"`
}

// GetUnseenCount returns the unseen count.
func (c *Controller) GetUnseenCount(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]int{"unseenCount": c.count.Get()})
}

// ListNotifications returns the list in order. ?unread=true filters to the
// entries still shown as unread.
func (c *Controller) ListNotifications(ctx echo.Context) error {
	list := c.notifier.Notifications()

	if raw := ctx.QueryParam("unread"); raw != "" {
		unreadOnly, err := strconv.ParseBool(raw)
		if err != nil {
			return c.HandleError(ctx, err, "invalid unread filter", http.StatusBadRequest)
		}
		if unreadOnly {
			list = slices.DeleteFunc(list, func(n notification.Notification) bool { return n.IsRead })
		}
	}

	return ctx.JSON(http.StatusOK, ListResponse{
		Notifications: list,
		UnseenCount:   c.count.Get(),
	})
}

// GetNotification returns one entry.
func (c *Controller) GetNotification(ctx echo.Context) error {
	id := ctx.Param("id")
	n, ok := c.notifier.Get(id)
	if !ok {
		return c.HandleError(ctx, nil, "notification not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, n)
}

// MarkRead marks one entry read. The reply is sent after the backend
// confirmed or rejected the read; a rejection returns 409. The commit is not
// tied to the client connection, so a disconnect does not roll the read back.
func (c *Controller) MarkRead(ctx echo.Context) error {
	id := ctx.Param("id")
	if _, ok := c.notifier.Get(id); !ok {
		return c.HandleError(ctx, nil, "notification not found", http.StatusNotFound)
	}

	err := c.notifier.MarkRead(context.WithoutCancel(ctx.Request().Context()), id)
	if err != nil {
		var rollback *notification.RollbackError
		switch {
		case errors.Is(err, notification.ErrClosed):
			return c.HandleError(ctx, err, "notification engine is shutting down", http.StatusServiceUnavailable)
		case errors.As(err, &rollback):
			return c.HandleError(ctx, err, "backend rejected the read; the notification is unread again", http.StatusConflict)
		default:
			return c.HandleError(ctx, err, "failed to mark notification read", http.StatusInternalServerError)
		}
	}

	resp := ReadResponse{UnseenCount: c.count.Get()}
	if n, ok := c.notifier.Get(id); ok {
		resp.Notification = &n
	}
	return ctx.JSON(http.StatusOK, resp)
}

// MarkAllRead marks every unread entry read.
func (c *Controller) MarkAllRead(ctx echo.Context) error {
	err := c.notifier.MarkAllRead(context.WithoutCancel(ctx.Request().Context()))
	if err == nil {
		return ctx.JSON(http.StatusOK, ReadResponse{UnseenCount: c.count.Get()})
	}
	if errors.Is(err, notification.ErrClosed) {
		return c.HandleError(ctx, err, "notification engine is shutting down", http.StatusServiceUnavailable)
	}

	failed := rolledBack(err)
	if len(failed) == 0 {
		return c.HandleError(ctx, err, "failed to mark notifications read", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusConflict, ReadAllFailure{
		ErrorResponse: ErrorResponse{
			Error:   "backend rejected some reads",
			Message: "some notifications are unread again",
			Code:    http.StatusConflict,
		},
		Failed:      failed,
		UnseenCount: c.count.Get(),
	})
}

// rolledBack extracts the ids of every RollbackError joined into err.
func rolledBack(err error) []string {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	var ids []string
	for _, e := range errs {
		var rollback *notification.RollbackError
		if errors.As(e, &rollback) {
			ids = append(ids, rollback.ID)
		}
	}
	return ids
}

// Refresh fetches a new snapshot. Requests beyond the configured rate get
// 429 with Retry-After.
func (c *Controller) Refresh(ctx echo.Context) error {
	res := c.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		ctx.Response().Header().Set("Retry-After", strconv.Itoa(int(max(delay.Round(time.Second), time.Second)/time.Second)))
		return c.HandleError(ctx, nil, "refresh rate exceeded", http.StatusTooManyRequests)
	}

	snap, err := c.notifier.Refresh(ctx.Request().Context())
	if err != nil {
		var fetch *notification.FetchError
		switch {
		case errors.Is(err, notification.ErrClosed):
			return c.HandleError(ctx, err, "notification engine is shutting down", http.StatusServiceUnavailable)
		case errors.As(err, &fetch):
			return c.HandleError(ctx, err, "failed to fetch notifications from the backend", http.StatusBadGateway)
		default:
			return c.HandleError(ctx, err, "refresh failed", http.StatusInternalServerError)
		}
	}
	return ctx.JSON(http.StatusOK, snap)
}
