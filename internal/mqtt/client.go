// Package mqtt provides the MQTT push transport.
package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/push"
)

const componentName = "mqtt"

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		QoS:               1,
		ConnectTimeout:    10 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

var schemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

// Transport opens MQTT sessions with the paho client. Paho's own
// reconnection is disabled; push.Channel owns the retry loop.
type Transport struct {
	cfg Config
	log logger.Logger
}

var _ push.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	u, err := url.Parse(cfg.Broker)
	if err != nil || u.Host == "" || !schemes[u.Scheme] {
		return nil, errors.Newf("invalid MQTT broker URL %q", logger.RedactSensitiveData(cfg.Broker)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.QoS > 2 {
		return nil, errors.Newf("invalid MQTT QoS %d", cfg.QoS).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "notifyd-" + uuid.NewString()[:8]
	}
	if log == nil {
		log = logger.NewDiscard()
	}

	return &Transport{
		cfg: cfg,
		log: log.Module(componentName).With(logger.String("broker", u.Redacted())),
	}, nil
}

// Name implements push.Transport.
func (t *Transport) Name() string { return "mqtt" }

// Connect implements push.Transport. The broker host is resolved first so
// DNS failures are reported as such rather than as a generic timeout.
func (t *Transport) Connect(ctx context.Context) (push.Session, error) {
	return t.connect(ctx, t.cfg.ClientID)
}

func (t *Transport) connect(ctx context.Context, clientID string) (*session, error) {
	if err := t.resolve(ctx); err != nil {
		return nil, err
	}

	s := &session{
		qos:        t.cfg.QoS,
		disconnect: t.cfg.DisconnectTimeout,
		log:        t.log,
		done:       make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(t.cfg.Username)
	opts.SetPassword(t.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.lose(err)
	})

	s.client = mqtt.NewClient(opts)
	if err := wait(ctx, s.client.Connect()); err != nil {
		s.client.Disconnect(0)
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryBrokerConnection).
			Context("client_id", clientID).
			Build()
	}

	t.log.Debug("connected", logger.String("client_id", clientID))
	return s, nil
}

func (t *Transport) resolve(ctx context.Context) error {
	u, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("host", host).
			Build()
	}
	return nil
}

// PublishTest publishes payload to topic on a separate short-lived session.
// It is a developer tool for exercising the live channel end to end.
func (t *Transport) PublishTest(ctx context.Context, topic string, payload []byte) error {
	s, err := t.connect(ctx, t.cfg.ClientID+"-publisher")
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	pctx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout)
	defer cancel()

	if err := wait(pctx, s.client.Publish(topic, t.cfg.QoS, false, payload)); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryBrokerPublish).
			Context("topic", topic).
			Build()
	}
	t.log.Info("test message published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// session is one paho client connection.
type session struct {
	client     mqtt.Client
	qos        byte
	disconnect time.Duration
	log        logger.Logger

	done      chan struct{}
	lostOnce  sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *session) Subscribe(ctx context.Context, topic string, deliver func([]byte)) error {
	tok := s.client.Subscribe(topic, s.qos, func(_ mqtt.Client, m mqtt.Message) {
		deliver(m.Payload())
	})
	if err := wait(ctx, tok); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryBrokerSubscribe).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (s *session) Unsubscribe(ctx context.Context, topic string) error {
	if !s.client.IsConnectionOpen() {
		return nil
	}
	return wait(ctx, s.client.Unsubscribe(topic))
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.client.Disconnect(uint(s.disconnect.Milliseconds()))
		s.lose(nil)
	})
	return nil
}

func (s *session) lose(err error) {
	s.lostOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("connection lost", logger.Error(err))
		}
		close(s.done)
	})
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
