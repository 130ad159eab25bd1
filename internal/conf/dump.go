package conf

import (
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
)

// EffectiveYAML renders the merged settings of v as YAML. Credentials are
// redacted and durations are printed in Go duration syntax.
func EffectiveYAML(v *viper.Viper) ([]byte, error) {
	out, err := yaml.Marshal(sanitize("", v.AllSettings()))
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("operation", "render-yaml").
			Build()
	}
	return out, nil
}

func sanitize(prefix string, value any) any {
	switch val := value.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			m[k] = sanitize(key, child)
		}
		return m
	case time.Duration:
		return val.String()
	case string:
		if logger.IsSensitiveKey(prefix) {
			return logger.RedactValue(val)
		}
		return val
	default:
		return val
	}
}
