package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/hrconsole/notifyd/internal/backend"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
	"github.com/hrconsole/notifyd/internal/unseen"
)

const (
	// DefaultDedupeTTL is how long delivered push ids are remembered.
	DefaultDedupeTTL = 30 * time.Minute
	// DefaultMarkAllConcurrency bounds parallel confirmations in MarkAllRead.
	DefaultMarkAllConcurrency = 4
	// DefaultRefreshTimeout bounds one shared snapshot request.
	DefaultRefreshTimeout = 30 * time.Second

	eventBufferSize = 32
)

// Config wires an Engine to its collaborators.
type Config struct {
	Backend backend.Client
	// Count is the Writer side of the unseen store. The engine is its only writer.
	Count   unseen.Writer
	Logger  logger.Logger
	Metrics *metrics.NotificationMetrics

	DedupeTTL          time.Duration
	MarkAllConcurrency int
	RefreshTimeout     time.Duration

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

// Engine owns the notification list and the unseen count.
//
// Every mutation happens in one critical section under mu and ends with the
// count being recomputed and published. No lock is held across backend calls.
type Engine struct {
	backend  backend.Client
	count    unseen.Writer
	log      logger.Logger
	metrics  *metrics.NotificationMetrics
	now      func() time.Time
	newID    func() string
	markConc int

	refreshGroup   singleflight.Group
	refreshTimeout time.Duration

	mu      sync.Mutex
	entries []*entry
	index   map[string]*entry
	// baseline is the part of the server's unreadCount not represented by
	// entries in the list.
	baseline int
	// clock orders local mutations against in-flight refreshes.
	clock uint64
	// seen remembers push ids so redeliveries are not re-added.
	seen      *cache.Cache
	listeners map[uint64]chan Event
	nextSub   uint64
	closed    bool
}

// New creates an Engine. The list starts empty; call Refresh to load the
// initial snapshot.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.Newf("notification engine requires a backend client").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Count == nil {
		return nil, errors.Newf("notification engine requires an unseen count store").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDiscard()
	}
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	conc := cfg.MarkAllConcurrency
	if conc <= 0 {
		conc = DefaultMarkAllConcurrency
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return PlaceholderPrefix + uuid.NewString() }
	}

	e := &Engine{
		backend:  cfg.Backend,
		count:    cfg.Count,
		log:      log.Module(componentName),
		metrics:  cfg.Metrics,
		now:      now,
		newID:    newID,
		markConc: conc,
		index:    make(map[string]*entry),
		// No janitor goroutine; expired ids are purged on each snapshot.
		seen:      cache.New(ttl, 0),
		listeners: make(map[uint64]chan Event),

		refreshTimeout: refreshTimeout,
	}
	e.publishLocked()
	return e, nil
}

// Notifications returns the current list in order.
func (e *Engine) Notifications() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Get returns the entry with id.
func (e *Engine) Get(id string) (Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.index[id]
	if !ok {
		return Notification{}, false
	}
	return ent.view(), true
}

// UnseenCount returns the count the engine last published.
func (e *Engine) UnseenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unseenLocked()
}

// Subscribe returns a channel of change events. Events are dropped for a
// subscriber whose buffer is full. The channel is closed by the returned
// func or by Close.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBufferSize)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.listeners[id] = ch
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if l, ok := e.listeners[id]; ok {
			delete(e.listeners, id)
			close(l)
		}
	}
}

// Close stops the engine. Late backend responses are discarded, listeners
// are closed and the unseen count is reset.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.listeners {
		delete(e.listeners, id)
		close(ch)
	}
	e.count.Reset()
	e.seen.Flush()
	e.log.Info("notification engine closed", logger.Int("entries", len(e.entries)))
}

func (e *Engine) tickLocked() uint64 {
	e.clock++
	return e.clock
}

func (e *Engine) viewLocked() []Notification {
	out := make([]Notification, len(e.entries))
	for i, ent := range e.entries {
		out[i] = ent.view()
	}
	return out
}

func (e *Engine) unseenLocked() int {
	n := e.baseline
	for _, ent := range e.entries {
		if ent.state.countsUnseen() {
			n++
		}
	}
	return max(n, 0)
}

// publishLocked recomputes the unseen count from entry states and publishes it.
func (e *Engine) publishLocked() int {
	n := e.unseenLocked()
	pending := 0
	for _, ent := range e.entries {
		if ent.state == StatePendingRead {
			pending++
		}
	}
	e.count.Set(n)
	e.metrics.ObserveState(n, len(e.entries), pending)
	return n
}

func (e *Engine) emitLocked(ev Event) {
	for _, ch := range e.listeners {
		select {
		case ch <- ev:
		default:
			e.log.Debug("dropping event for slow subscriber", logger.String("event", string(ev.Type)))
		}
	}
}
