package logger

import (
	"log/slog"
	"strings"
)

// MaskUsername masks a username or email for logging (e.g., "a****" or "u***@e***.com")
func MaskUsername(name string) string {
	if name == "" {
		return ""
	}

	local, domain, isEmail := strings.Cut(name, "@")
	local = maskKeepFirst(local)
	if !isEmail {
		return local
	}

	// Mask all but the TLD
	domainParts := strings.Split(domain, ".")
	for i := 0; i < len(domainParts)-1; i++ {
		domainParts[i] = strings.Repeat("*", len(domainParts[i]))
	}

	return local + "@" + strings.Join(domainParts, ".")
}

func maskKeepFirst(s string) string {
	runes := []rune(s)
	if len(runes) <= 1 {
		return s
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// sensitiveParams are query or attribute keys whose values never reach the logs
var sensitiveParams = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"apikey",
	"auth",
	"credential",
}

// IsSensitiveKey reports whether key names a secret-bearing field
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveParams {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// SanitizeQueryString reports whether the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	return IsSensitiveKey(rawQuery)
}
