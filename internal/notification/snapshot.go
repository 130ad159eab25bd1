package notification

import (
	"context"
	"time"

	"github.com/hrconsole/notifyd/internal/backend"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

// Refresh loads the authoritative unread snapshot and replaces the list with
// it. On success the unseen count equals the snapshot's unreadCount, less any
// entries with a read still in flight. On failure local state is unchanged
// and a *FetchError is returned.
//
// Concurrent calls share one backend request. The request is detached from
// the callers' cancellation and bounded by the refresh timeout, so a caller
// that gives up returns ctx's error as a *FetchError without failing the
// others.
func (e *Engine) Refresh(ctx context.Context) (Snapshot, error) {
	ch := e.refreshGroup.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.refreshTimeout)
		defer cancel()
		return e.refresh(fctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			e.metrics.RecordRefresh(metrics.ResultCoalesce)
		}
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return Snapshot{}, &FetchError{Err: ctx.Err()}
	}
}

func (e *Engine) refresh(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	started := e.clock
	e.mu.Unlock()

	start := time.Now()
	resp, err := e.backend.FetchUnread(ctx)
	if err != nil {
		e.metrics.RecordRefresh(metrics.ResultError)
		e.log.Warn("snapshot refresh failed",
			logger.Error(err),
			logger.Duration("elapsed", time.Since(start)))
		return Snapshot{}, &FetchError{Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Snapshot{}, ErrClosed
	}

	kept, retained := e.applyLocked(resp, started)
	count := e.publishLocked()
	e.metrics.RecordRefresh(metrics.ResultSuccess)
	e.emitLocked(Event{Type: EventSnapshot, UnseenCount: count})

	e.log.Info("snapshot applied",
		logger.Int("entries", len(e.entries)),
		logger.Int("unread_count", resp.UnreadCount),
		logger.Int("unseen_count", count),
		logger.Int("pending_kept", kept),
		logger.Int("push_retained", retained),
		logger.Duration("elapsed", time.Since(start)))

	return Snapshot{Notifications: e.viewLocked(), UnreadCount: count}, nil
}

// applyLocked replaces the list with resp. started is the engine clock when
// the request was issued.
//
//   - Snapshot order is preserved and each id appears once.
//   - An entry with a read in flight stays pending_read.
//   - A read confirmed after the request was issued stays read.
//   - Push entries that arrived after the request was issued and are absent
//     from the snapshot are kept after the snapshot entries. A placeholder is
//     dropped instead when the snapshot brings a new entry with the same
//     message, which is the same event under its server id.
//   - An existing entry keeps its timestamp when the snapshot has none.
//
// It returns how many pending reads were kept and how many push entries were
// retained.
func (e *Engine) applyLocked(resp *backend.UnreadResponse, started uint64) (kept, retained int) {
	entries := make([]*entry, 0, len(resp.Notifications))
	index := make(map[string]*entry, len(resp.Notifications))
	serverUnread := 0
	// arrived counts messages of snapshot entries new to the list.
	arrived := make(map[string]int)

	for _, n := range resp.Notifications {
		if n.ID == "" {
			e.log.Warn("snapshot entry without id ignored", logger.String("message", n.Message))
			continue
		}
		if _, dup := index[n.ID]; dup {
			continue
		}
		if !n.IsRead {
			serverUnread++
		}

		state := StateUnread
		if n.IsRead {
			state = StateRead
		}

		ent, ok := e.index[n.ID]
		if ok {
			switch {
			case ent.state == StatePendingRead:
				state = StatePendingRead
				kept++
			case ent.state == StateRead && ent.changed > started:
				state = StateRead
			case ent.state == StateRollbackFailed && !n.IsRead:
				state = StateRollbackFailed
			}
		} else {
			ent = &entry{id: n.ID, timestamp: e.now()}
			arrived[n.Message]++
		}

		ent.message = n.Message
		if !n.Timestamp.IsZero() {
			ent.timestamp = n.Timestamp
		}
		ent.state = state
		ent.source = SourceSnapshot

		entries = append(entries, ent)
		index[n.ID] = ent
	}

	for _, ent := range e.entries {
		if _, ok := index[ent.id]; ok {
			continue
		}
		if ent.placeholder && arrived[ent.message] > 0 {
			arrived[ent.message]--
			continue
		}
		if ent.source == SourcePush && ent.added > started {
			entries = append(entries, ent)
			index[ent.id] = ent
			retained++
		}
	}

	e.entries = entries
	e.index = index
	e.baseline = resp.UnreadCount - serverUnread
	e.seen.DeleteExpired()
	return kept, retained
}

// RunBackstop refreshes every interval until ctx is done. A non-positive
// interval returns immediately. Failures are logged by Refresh.
func (e *Engine) RunBackstop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Refresh(ctx); errors.Is(err, ErrClosed) {
				return
			}
		}
	}
}
