// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/hrconsole/notifyd/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

var brokerSchemes = map[string][]string{
	TransportMQTT:  {"tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss"},
	TransportSTOMP: {"ws", "wss"},
}

// ValidateSettings validates the entire Settings struct. The returned error
// is an EnhancedError in CategoryConfiguration wrapping a ValidationError.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	add(validateAPISettings(&settings.API))
	add(validateSessionSettings(&settings.Session))
	add(validateBrokerSettings(&settings.Broker))
	add(validateNotificationSettings(&settings.Notifications))
	add(validateHTTPSettings(&settings.HTTP))
	add(validateLoggingSettings(&settings.Logging))
	add(validateTelemetrySettings(&settings.Telemetry))

	if len(ve.Errors) == 0 {
		return nil
	}
	return errors.New(ve).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("error_count", len(ve.Errors)).
		Build()
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL %q must include scheme and host", raw)
	}
	return nil
}

func validateAPISettings(s *APISettings) error {
	if err := validateURL(s.BaseURL); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if u, _ := url.Parse(s.BaseURL); u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url: scheme must be http or https")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	return nil
}

func validateSessionSettings(s *SessionSettings) error {
	if strings.TrimSpace(s.StaffID) == "" {
		return fmt.Errorf("session.staff_id is required")
	}
	return nil
}

func validateBrokerSettings(s *BrokerSettings) error {
	schemes, ok := brokerSchemes[s.Transport]
	if !ok {
		return fmt.Errorf("broker.transport must be %q or %q", TransportMQTT, TransportSTOMP)
	}
	if err := validateURL(s.URL); err != nil {
		return fmt.Errorf("broker.url: %w", err)
	}
	if u, _ := url.Parse(s.URL); !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("broker.url: scheme %q not supported by %s transport", u.Scheme, s.Transport)
	}
	if s.QoS < 0 || s.QoS > 2 {
		return fmt.Errorf("broker.qos must be 0, 1 or 2")
	}
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("broker.reconnect_delay must be positive")
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	return nil
}

func validateNotificationSettings(s *NotificationSettings) error {
	if s.RefreshInterval < 0 {
		return fmt.Errorf("notifications.refresh_interval must not be negative")
	}
	if s.DedupeTTL < 0 {
		return fmt.Errorf("notifications.dedupe_ttl must not be negative")
	}
	if s.MarkAllConcurrency < 1 {
		return fmt.Errorf("notifications.mark_all_concurrency must be at least 1")
	}
	return nil
}

func validateHTTPSettings(s *HTTPSettings) error {
	if s.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if s.RefreshRate <= 0 {
		return fmt.Errorf("http.refresh_rate must be positive")
	}
	return nil
}

func validateLoggingSettings(s *LoggingSettings) error {
	if err := validateEnvLogLevel(s.Level); err != nil {
		return fmt.Errorf("logging.level %w", err)
	}
	switch strings.ToLower(s.Format) {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("logging.format must be json or text")
}

func validateTelemetrySettings(s *TelemetrySettings) error {
	if s.Enabled && s.DSN == "" {
		return fmt.Errorf("telemetry.dsn is required when telemetry is enabled")
	}
	return nil
}
