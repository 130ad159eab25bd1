// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. NOTIFYD_BROKER_URL.
const EnvPrefix = "NOTIFYD"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"api.base_url", "NOTIFYD_API_BASE_URL", validateEnvURL},
		{"api.timeout", "NOTIFYD_API_TIMEOUT", validateEnvDuration},
		{"api.session_token", "NOTIFYD_API_SESSION_TOKEN", nil},
		{"api.session_cookie", "NOTIFYD_API_SESSION_COOKIE", nil},

		{"session.staff_id", "NOTIFYD_SESSION_STAFF_ID", nil},
		{"session.tenant_id", "NOTIFYD_SESSION_TENANT_ID", nil},

		{"broker.transport", "NOTIFYD_BROKER_TRANSPORT", validateEnvTransport},
		{"broker.url", "NOTIFYD_BROKER_URL", validateEnvURL},
		{"broker.username", "NOTIFYD_BROKER_USERNAME", nil},
		{"broker.password", "NOTIFYD_BROKER_PASSWORD", nil},
		{"broker.qos", "NOTIFYD_BROKER_QOS", validateEnvQoS},
		{"broker.reconnect_delay", "NOTIFYD_BROKER_RECONNECT_DELAY", validateEnvDuration},

		{"notifications.refresh_interval", "NOTIFYD_NOTIFICATIONS_REFRESH_INTERVAL", validateEnvDuration},

		{"http.listen", "NOTIFYD_HTTP_LISTEN", nil},

		{"logging.level", "NOTIFYD_LOGGING_LEVEL", validateEnvLogLevel},
		{"telemetry.enabled", "NOTIFYD_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "NOTIFYD_TELEMETRY_DSN", nil},
	}
}

// bindEnvVars binds the explicit variables and validates any that are set.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 5s or 1m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvURL(value string) error {
	return validateURL(value)
}

func validateEnvTransport(value string) error {
	switch value {
	case TransportMQTT, TransportSTOMP:
		return nil
	}
	return fmt.Errorf("must be %q or %q", TransportMQTT, TransportSTOMP)
}

func validateEnvQoS(value string) error {
	q, err := strconv.Atoi(value)
	if err != nil || q < 0 || q > 2 {
		return fmt.Errorf("must be 0, 1 or 2")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}
