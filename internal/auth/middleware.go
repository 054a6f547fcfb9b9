package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing operator claims in context
	ClaimsContextKey contextKey = "claims"
)

// RequireToken validates Bearer tokens and injects the claims into the context
func RequireToken(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope denies requests whose token carries none of scopes. Use after RequireToken.
func RequireScope(scopes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			for _, scope := range scopes {
				if claims.HasScope(scope) {
					next.ServeHTTP(w, r)
					return
				}
			}

			pkghttp.WriteForbidden(w, "insufficient scope")
		})
	}
}

// GetClaimsFromContext extracts operator claims from request context
func GetClaimsFromContext(r *http.Request) *AdminClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*AdminClaims)
	if !ok {
		return nil
	}
	return claims
}
