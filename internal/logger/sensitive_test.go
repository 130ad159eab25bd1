package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "notification n-1 marked read", "notification n-1 marked read"},
		{"bearer", "Authorization: Bearer abc.def-ghi", "Authorization: Bearer [REDACTED]"},
		{"cookie", "Cookie: JSESSIONID=0123456789abcdef; Path=/", "Cookie: JSESSIONID=[REDACTED]; Path=/"},
		{"short value kept", "sid=abc", "sid=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RedactSensitiveData(tt.input))
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSensitiveKey("api.session_token"))
	assert.True(t, IsSensitiveKey("broker.password"))
	assert.True(t, IsSensitiveKey("telemetry.dsn"))
	assert.False(t, IsSensitiveKey("broker.url"))

	assert.Equal(t, "", RedactValue(""))
	assert.Equal(t, "[REDACTED]", RedactValue("hunter2"))
}
