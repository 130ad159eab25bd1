package push

import (
	"context"
	"sync"
	"time"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
)

const componentName = "push"

// ErrSessionLost is reported when a session ends without a cause.
var ErrSessionLost = errors.NewStd("push session lost")

// State is the connection state of a Channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSubscribed   State = "subscribed"
)

// States lists every State, for metric registration.
func States() []string {
	return []string{
		string(StateDisconnected),
		string(StateConnecting),
		string(StateConnected),
		string(StateSubscribed),
	}
}

const (
	// DefaultReconnectDelay is the fixed wait between connection attempts.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultConnectTimeout bounds one connect plus subscribe attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultUnsubscribeTimeout bounds the unsubscribe sent on Stop.
	DefaultUnsubscribeTimeout = 2 * time.Second
)

// Options tune a Channel. Zero values select the defaults.
type Options struct {
	ReconnectDelay     time.Duration
	ConnectTimeout     time.Duration
	UnsubscribeTimeout time.Duration
	Logger             logger.Logger
	Metrics            *metrics.PushMetrics
}

// Status is a point-in-time view of a Channel.
type Status struct {
	State     State     `json:"state"`
	Transport string    `json:"transport"`
	Topic     string    `json:"topic"`
	Since     time.Time `json:"since"`
	Attempts  int       `json:"attempts"`
	Received  int       `json:"received"`
	LastError string    `json:"lastError,omitempty"`
}

// Channel maintains one subscription and reconnects until stopped.
type Channel struct {
	transport Transport
	topic     string
	handler   Handler
	opts      Options
	log       logger.Logger

	mu        sync.Mutex
	state     State
	since     time.Time
	attempts  int
	received  int
	lastErr   string
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool

	// deliverMu guards stopped; deliveries hold it shared so Stop can wait
	// for an in-flight handler call.
	deliverMu sync.RWMutex
	stopped   bool
}

// New creates a stopped Channel.
func New(transport Transport, topic string, handler Handler, opts Options) (*Channel, error) {
	if transport == nil || handler == nil {
		return nil, errors.Newf("push channel requires a transport and a handler").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if topic == "" {
		return nil, errors.Newf("push channel requires a topic").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.UnsubscribeTimeout <= 0 {
		opts.UnsubscribeTimeout = DefaultUnsubscribeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDiscard()
	}

	c := &Channel{
		transport: transport,
		topic:     topic,
		handler:   handler,
		opts:      opts,
		log: log.Module(componentName).With(
			logger.String("transport", transport.Name()),
			logger.String("topic", topic)),
		state: StateDisconnected,
		since: time.Now(),
	}
	opts.Metrics.SetState(string(StateDisconnected), false)
	return c, nil
}

// Start launches the connection loop. It returns immediately; failures are
// logged and retried, never returned. A Channel can be started once.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.Newf("push channel already started").
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Stop cancels any connect attempt or reconnect wait, unsubscribes and
// closes the session, and waits for the loop to exit. No handler call
// begins after Stop returns.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.started = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.deliverMu.Lock()
	c.stopped = true
	c.deliverMu.Unlock()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the channel.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Transport: c.transport.Name(),
		Topic:     c.topic,
		Since:     c.since,
		Attempts:  c.attempts,
		Received:  c.received,
		LastError: c.lastErr,
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	for {
		sess, err := c.connect(ctx)
		if err == nil {
			c.serve(ctx, sess)
		}
		if ctx.Err() != nil {
			return
		}

		c.setState(StateDisconnected)
		c.log.Info("reconnecting after delay", logger.Duration("delay", c.opts.ReconnectDelay))

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		c.opts.Metrics.IncrementReconnectAttempts()
	}
}

// connect runs one connect plus subscribe attempt.
func (c *Channel) connect(ctx context.Context) (Session, error) {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.setState(StateConnecting)
	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	sess, err := c.transport.Connect(cctx)
	if err != nil {
		if ctx.Err() == nil {
			c.fail("connect", errors.New(err).
				Component(componentName).
				Category(errors.CategoryBrokerConnection).
				Context("attempt", attempt).
				Build())
		}
		return nil, err
	}
	c.setState(StateConnected)

	if err := sess.Subscribe(cctx, c.topic, c.deliver); err != nil {
		_ = sess.Close()
		if ctx.Err() == nil {
			c.fail("subscribe", errors.New(err).
				Component(componentName).
				Category(errors.CategoryBrokerSubscribe).
				Context("attempt", attempt).
				Build())
		}
		return nil, err
	}

	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
	c.setState(StateSubscribed)
	c.log.Info("subscribed",
		logger.Int("attempt", attempt),
		logger.Duration("elapsed", time.Since(start)))
	return sess, nil
}

// serve blocks until the session drops or ctx is cancelled.
func (c *Channel) serve(ctx context.Context, sess Session) {
	select {
	case <-ctx.Done():
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.UnsubscribeTimeout)
		if err := sess.Unsubscribe(uctx, c.topic); err != nil {
			c.log.Debug("unsubscribe on stop failed", logger.Error(err))
		}
		cancel()
		if err := sess.Close(); err != nil {
			c.log.Debug("close on stop failed", logger.Error(err))
		}
		c.log.Info("push channel stopped")
	case <-sess.Done():
		cause := sess.Err()
		if cause == nil {
			cause = ErrSessionLost
		}
		_ = sess.Close()
		c.fail("read", errors.New(cause).
			Component(componentName).
			Category(errors.CategoryBrokerConnection).
			Build())
	}
}

func (c *Channel) deliver(payload []byte) {
	c.deliverMu.RLock()
	defer c.deliverMu.RUnlock()
	if c.stopped {
		c.opts.Metrics.ObserveMessage(metrics.PushDropped, len(payload))
		return
	}

	c.mu.Lock()
	c.received++
	c.mu.Unlock()

	if c.handler(payload) {
		c.opts.Metrics.ObserveMessage(metrics.PushAccepted, len(payload))
		return
	}
	c.opts.Metrics.ObserveMessage(metrics.PushIgnored, len(payload))
}

func (c *Channel) fail(stage string, err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.opts.Metrics.IncrementErrors(stage)
	c.log.Warn("push channel failure", logger.String("stage", stage), logger.Error(err))
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.since = time.Now()
	c.mu.Unlock()

	c.opts.Metrics.SetState(string(s), s == StateSubscribed)
	c.log.Debug("state changed", logger.String("from", string(prev)), logger.String("to", string(s)))
}
