package notification

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

// MarkRead marks the notification read with immediate local effect and then
// confirms it with the backend.
//
// Only entries in StateUnread or StateRollbackFailed are acted on; any other
// state, or an unknown id, is a no-op returning nil. If the backend rejects
// the confirmation the entry moves to StateRollbackFailed, the count is
// restored and a *RollbackError is returned. Confirmations that arrive after
// Close, or for an entry a newer snapshot removed, are discarded.
//
// Placeholder ids are marked read locally only.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	ent, ok := e.index[id]
	if !ok || !ent.state.markable() {
		e.mu.Unlock()
		e.metrics.RecordMarkRead(metrics.ResultNoop)
		return nil
	}

	if ent.placeholder {
		e.transitionLocked(ent, StateRead)
		e.mu.Unlock()
		e.metrics.RecordMarkRead(metrics.ResultLocal)
		e.log.Debug("placeholder marked read locally", logger.String("notification_id", id))
		return nil
	}

	e.transitionLocked(ent, StatePendingRead)
	e.mu.Unlock()

	start := time.Now()
	err := e.backend.MarkRead(ctx, id)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.log.Debug("discarding confirmation after close", logger.String("notification_id", id))
		return nil
	}
	if cur, ok := e.index[id]; !ok || cur != ent || ent.state != StatePendingRead {
		e.log.Debug("discarding confirmation for removed entry", logger.String("notification_id", id))
		return nil
	}

	if err == nil {
		e.transitionLocked(ent, StateRead)
		e.metrics.RecordMarkRead(metrics.ResultSuccess)
		return nil
	}

	e.transitionLocked(ent, StateRollbackFailed)
	e.metrics.RecordMarkRead(metrics.ResultRollback)
	e.log.Warn("mark read rejected, rolled back",
		logger.String("notification_id", id),
		logger.Error(err),
		logger.Duration("elapsed", time.Since(start)))

	return &RollbackError{
		ID: id,
		Err: errors.New(err).
			Component(componentName).
			Category(errors.CategoryRollback).
			Context("notification_id", id).
			Build(),
	}
}

// MarkAllRead marks every currently unread entry read, confirming up to the
// configured number concurrently. Rollback errors are joined.
func (e *Engine) MarkAllRead(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var ids []string
	for _, ent := range e.entries {
		if ent.state.markable() {
			ids = append(ids, ent.id)
		}
	}
	e.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(e.markConc)
	for _, id := range ids {
		g.Go(func() error {
			if err := e.MarkRead(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		e.log.Warn("mark all read finished with failures",
			logger.Int("requested", len(ids)),
			logger.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

// transitionLocked changes the entry state, republishes the count and emits
// an update event.
func (e *Engine) transitionLocked(ent *entry, state ReadState) {
	ent.state = state
	ent.changed = e.tickLocked()
	count := e.publishLocked()
	e.emitLocked(Event{Type: EventUpdated, Notification: ent.view(), UnseenCount: count})
}
