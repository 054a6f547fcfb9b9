package middleware

import (
	"context"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// Guard is the part of the lockout guard the middleware needs
type Guard interface {
	PreAuthenticate(ctx context.Context, id identity.Identity) models.Decision
	PostAuthenticate(ctx context.Context, id identity.Identity, outcome models.Outcome) error
}

// Lockout wraps a login handler. Locked-out clients are rejected before the
// handler runs; afterwards the handler's status is recorded as the attempt's
// outcome: 2xx is a success, 401 and 403 are failures, anything else is ignored.
func Lockout(guard Guard, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity.FromRequest(r, ipConfig)

			decision := guard.PreAuthenticate(r.Context(), id)
			if !decision.Allowed {
				WriteDecision(w, decision)
				return
			}

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			outcome, ok := OutcomeForStatus(wrapped.Status())
			if !ok {
				return
			}
			// Store errors are logged by the guard and never affect the response
			_ = guard.PostAuthenticate(context.WithoutCancel(r.Context()), id, outcome)
		})
	}
}

// OutcomeForStatus maps a login handler's response status to an attempt outcome
func OutcomeForStatus(status int) (models.Outcome, bool) {
	switch {
	case status == 0:
		// Handler wrote nothing; net/http answers 200
		return models.OutcomeSuccess, true
	case status >= 200 && status < 300:
		return models.OutcomeSuccess, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return models.OutcomeFailure, true
	}
	return "", false
}

// WriteDecision renders a denied decision. Lockouts are 403 with Retry-After
// when the lock lifts on its own; an unavailable store is 503.
func WriteDecision(w http.ResponseWriter, d models.Decision) {
	status := http.StatusForbidden
	if d.Reason == models.ReasonStoreUnavailable {
		status = http.StatusServiceUnavailable
	}

	pkghttp.SetRetryAfter(w, d.RetryAfterSeconds())
	pkghttp.WriteJSON(w, status, d)
}
