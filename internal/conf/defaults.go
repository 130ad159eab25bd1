// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers a default for every key so that env bindings and
// AllSettings see the full key set.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.session_token", "")
	v.SetDefault("api.session_cookie", "")

	v.SetDefault("session.staff_id", "")
	v.SetDefault("session.tenant_id", "default")

	v.SetDefault("broker.transport", TransportMQTT)
	v.SetDefault("broker.url", "tcp://localhost:1883")
	v.SetDefault("broker.client_id", "")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.topic", "")
	v.SetDefault("broker.qos", 1)
	v.SetDefault("broker.reconnect_delay", 5*time.Second)
	v.SetDefault("broker.connect_timeout", 10*time.Second)

	v.SetDefault("notifications.refresh_interval", time.Duration(0))
	v.SetDefault("notifications.dedupe_ttl", 30*time.Minute)
	v.SetDefault("notifications.mark_all_concurrency", 4)

	v.SetDefault("http.listen", "127.0.0.1:8787")
	v.SetDefault("http.refresh_rate", 0.2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
}
