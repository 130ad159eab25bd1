// Package conf loads notifyd settings from YAML, environment and flags.
package conf

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hrconsole/notifyd/internal/errors"
)

//go:embed notifyd.yaml
var defaultConfigYAML string

// Transport names accepted by broker.transport.
const (
	TransportMQTT  = "mqtt"
	TransportSTOMP = "stomp"
)

// Default topic templates per transport. {staffId} and {tenantId} are filled
// from the session context.
const (
	DefaultSTOMPTopic = "/topic/staff/{staffId}/notifications"
	DefaultMQTTTopic  = "hr/{tenantId}/staff/{staffId}/notifications"
)

// Settings is the root configuration.
type Settings struct {
	API           APISettings          `mapstructure:"api"`
	Session       SessionSettings      `mapstructure:"session"`
	Broker        BrokerSettings       `mapstructure:"broker"`
	Notifications NotificationSettings `mapstructure:"notifications"`
	HTTP          HTTPSettings         `mapstructure:"http"`
	Logging       LoggingSettings      `mapstructure:"logging"`
	Telemetry     TelemetrySettings    `mapstructure:"telemetry"`
}

// APISettings describes the HR backend REST API.
type APISettings struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SessionToken  string        `mapstructure:"session_token"`  // sent as Authorization: Bearer
	SessionCookie string        `mapstructure:"session_cookie"` // sent verbatim as Cookie
}

// SessionSettings identifies the signed-in staff member.
type SessionSettings struct {
	StaffID  string `mapstructure:"staff_id"`
	TenantID string `mapstructure:"tenant_id"`
}

// BrokerSettings configures the live push channel.
type BrokerSettings struct {
	Transport      string        `mapstructure:"transport"`
	URL            string        `mapstructure:"url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Topic          string        `mapstructure:"topic"` // empty selects the transport default
	QoS            int           `mapstructure:"qos"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// NotificationSettings tunes the engine.
type NotificationSettings struct {
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"` // 0 disables the backstop refresh
	DedupeTTL          time.Duration `mapstructure:"dedupe_ttl"`
	MarkAllConcurrency int           `mapstructure:"mark_all_concurrency"`
}

// HTTPSettings configures the local API.
type HTTPSettings struct {
	Listen      string  `mapstructure:"listen"`
	RefreshRate float64 `mapstructure:"refresh_rate"` // manual refreshes per second
}

// LoggingSettings configures internal/logger.
type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetrySettings configures optional Sentry error reporting.
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// Topic returns the push topic for the session, filling the template
// placeholders from the session context.
func (s *Settings) Topic() string {
	tmpl := s.Broker.Topic
	if tmpl == "" {
		if s.Broker.Transport == TransportSTOMP {
			tmpl = DefaultSTOMPTopic
		} else {
			tmpl = DefaultMQTTTopic
		}
	}
	return strings.NewReplacer(
		"{staffId}", s.Session.StaffID,
		"{tenantId}", s.Session.TenantID,
	).Replace(tmpl)
}

// NewViper returns a viper instance with notifyd defaults and env bindings applied.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("notifyd")
	v.SetConfigType("yaml")
	for _, p := range DefaultConfigPaths() {
		v.AddConfigPath(p)
	}
	setDefaultConfig(v)
	if err := configureEnvironmentVariables(v); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}
	return v, nil
}

// Load reads and validates the settings. See Decode.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	settings, err := Decode(v, configFile)
	if err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Decode reads the config file (configFile, or the first notifyd.yaml found on
// the search path) and unmarshals the settings without validating them. A
// missing config file on the search path is not an error; defaults and
// environment apply.
func Decode(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("reading config: %w", err)).
				Component("conf").
				Category(errors.CategoryFileParsing).
				Context("config_file", configFile).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("decoding config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return settings, nil
}

// DefaultConfigPaths lists the directories searched for notifyd.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "notifyd"))
	}
	return append(paths, "/etc/notifyd")
}

// DefaultConfigYAML returns the annotated default configuration file.
func DefaultConfigYAML() string {
	return defaultConfigYAML
}
