package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(session|auth|token|csrf|sid|jsessionid)=([^;,\s]{5,})`),
}

var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "cookie", "authorization", "dsn",
}

// RedactSensitiveData masks bearer tokens and session cookie values in s.
func RedactSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, "${1}"+redacted)
	}
	return s
}

// IsSensitiveKey reports whether a config or field key names a credential.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

// RedactValue returns a placeholder for non-empty values.
func RedactValue(v string) string {
	if v == "" {
		return ""
	}
	return redacted
}
