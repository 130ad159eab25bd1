// Package app assembles notifyd from its settings: the backend client, the
// push transport, the notification engine and the local HTTP API.
package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/hrconsole/notifyd/internal/backend"
	"github.com/hrconsole/notifyd/internal/buildinfo"
	"github.com/hrconsole/notifyd/internal/conf"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/mqtt"
	"github.com/hrconsole/notifyd/internal/notification"
	"github.com/hrconsole/notifyd/internal/observability/metrics"
	"github.com/hrconsole/notifyd/internal/push"
	"github.com/hrconsole/notifyd/internal/secrets"
	"github.com/hrconsole/notifyd/internal/stomp"
	"github.com/hrconsole/notifyd/internal/unseen"
)

// stompHeartBeat is the heart-beat interval offered to STOMP brokers.
const stompHeartBeat = 10 * time.Second

// Context is the loaded runtime environment shared by the CLI commands.
type Context struct {
	Build    *buildinfo.Context
	Viper    *viper.Viper
	Settings *conf.Settings
	Logger   *logger.CentralLogger
	// Secrets resolves keyring:, file: and ${VAR} credential references.
	Secrets *secrets.Resolver
}

// NewContext returns a Context with defaults and environment bindings
// applied. Call Load once flags are parsed.
func NewContext(build *buildinfo.Context) (*Context, error) {
	v, err := conf.NewViper()
	if err != nil {
		return nil, err
	}
	return &Context{Build: build, Viper: v, Secrets: secrets.NewResolver()}, nil
}

// Load reads the settings, resolves credential references and builds the
// central logger. With validate false, settings are decoded but neither
// checked nor resolved.
func (c *Context) Load(configFile string, validate bool) error {
	var (
		settings *conf.Settings
		err      error
	)
	if validate {
		settings, err = conf.Load(c.Viper, configFile)
	} else {
		settings, err = conf.Decode(c.Viper, configFile)
	}
	if err != nil {
		return err
	}
	if validate {
		if err := c.ResolveSecrets(settings); err != nil {
			return err
		}
	}

	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(cl)

	c.Settings = settings
	c.Logger = cl
	return nil
}

// ResolveSecrets replaces credential references with their values.
func (c *Context) ResolveSecrets(s *conf.Settings) error {
	for name, field := range map[string]*string{
		"api.session_token":  &s.API.SessionToken,
		"api.session_cookie": &s.API.SessionCookie,
		"broker.password":    &s.Broker.Password,
		"telemetry.dsn":      &s.Telemetry.DSN,
	} {
		value, err := c.Secrets.Resolve(name, *field)
		if err != nil {
			return err
		}
		*field = value
	}
	return nil
}

// Log returns a module logger, or a discarding one before Load. An empty
// module returns the root logger for components that scope themselves.
func (c *Context) Log(module string) logger.Logger {
	if c.Logger == nil {
		return logger.NewDiscard()
	}
	return c.Logger.Module(module)
}

// NewBackend builds the REST client. m may be nil.
func (c *Context) NewBackend(m *metrics.BackendMetrics) (*backend.HTTPClient, error) {
	api := c.Settings.API
	return backend.New(backend.Config{
		BaseURL:       api.BaseURL,
		Timeout:       api.Timeout,
		SessionToken:  api.SessionToken,
		SessionCookie: api.SessionCookie,
		UserAgent:     c.Build.UserAgent(),
		Metrics:       m,
	}, c.Log(""))
}

// NewEngine builds a notification engine over client and count.
func (c *Context) NewEngine(client backend.Client, count unseen.Writer, m *metrics.NotificationMetrics) (*notification.Engine, error) {
	ns := c.Settings.Notifications
	return notification.New(notification.Config{
		Backend:            client,
		Count:              count,
		Logger:             c.Log(""),
		Metrics:            m,
		DedupeTTL:          ns.DedupeTTL,
		MarkAllConcurrency: ns.MarkAllConcurrency,
		RefreshTimeout:     c.Settings.API.Timeout,
	})
}

// NewMQTT builds the MQTT transport regardless of broker.transport.
func (c *Context) NewMQTT() (*mqtt.Transport, error) {
	b := c.Settings.Broker
	cfg := mqtt.DefaultConfig()
	cfg.Broker = b.URL
	cfg.ClientID = b.ClientID
	cfg.Username = b.Username
	cfg.Password = b.Password
	cfg.QoS = byte(b.QoS)
	cfg.ConnectTimeout = b.ConnectTimeout
	return mqtt.New(cfg, c.Log("push"))
}

// NewSTOMP builds the STOMP transport. The backend session credentials are
// sent with the WebSocket handshake.
func (c *Context) NewSTOMP() (*stomp.Transport, error) {
	b := c.Settings.Broker
	header := http.Header{}
	if c.Settings.API.SessionCookie != "" {
		header.Set("Cookie", c.Settings.API.SessionCookie)
	}
	if c.Settings.API.SessionToken != "" {
		header.Set("Authorization", "Bearer "+c.Settings.API.SessionToken)
	}
	return stomp.New(stomp.Config{
		URL:            b.URL,
		Login:          b.Username,
		Passcode:       b.Password,
		Header:         header,
		HeartBeat:      stompHeartBeat,
		ConnectTimeout: b.ConnectTimeout,
	}, c.Log("push"))
}

// NewTransport builds the transport selected by broker.transport.
func (c *Context) NewTransport() (push.Transport, error) {
	switch c.Settings.Broker.Transport {
	case conf.TransportMQTT:
		return c.NewMQTT()
	case conf.TransportSTOMP:
		return c.NewSTOMP()
	default:
		return nil, errors.Newf("unknown push transport %q", c.Settings.Broker.Transport).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewChannel builds the push channel delivering into handler. m may be nil.
func (c *Context) NewChannel(handler push.Handler, m *metrics.PushMetrics) (*push.Channel, error) {
	transport, err := c.NewTransport()
	if err != nil {
		return nil, err
	}
	return push.New(transport, c.Settings.Topic(), handler, push.Options{
		ReconnectDelay: c.Settings.Broker.ReconnectDelay,
		ConnectTimeout: c.Settings.Broker.ConnectTimeout,
		Logger:         c.Log(""),
		Metrics:        m,
	})
}

// loadSnapshot performs the initial refresh. A failure is logged and the
// engine starts empty; the next refresh will load the list.
func loadSnapshot(ctx context.Context, engine *notification.Engine, log logger.Logger) {
	snap, err := engine.Refresh(ctx)
	if err != nil {
		log.Warn("initial snapshot failed", logger.Error(err))
		return
	}
	log.Info("initial snapshot loaded",
		logger.Int("entries", len(snap.Notifications)),
		logger.Int("unseen_count", snap.UnreadCount))
}
