package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultAPIRateLimit returns the default limit for the lockout API
func DefaultAPIRateLimit(ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
		IPConfig:          ipConfig,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// Forwarding headers are honoured only from trusted proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
