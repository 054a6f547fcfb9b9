package routes

import (
	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes. When tokenManager is nil
// the attempt routes are anonymous and the operator routes are not mounted.
func RegisterRoutes(
	router chi.Router,
	lockoutHandler *handlers.LockoutHandler,
	tokenManager *auth.TokenManager,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", lockoutHandler.Health)

	limit := middleware.RateLimitByIP(rateLimitConfig)
	router.Route("/v1/attempts", func(r chi.Router) {
		if tokenManager == nil {
			r.With(limit).Post("/check", lockoutHandler.Check)
			r.With(limit).Post("/", lockoutHandler.Record)
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(limit, auth.RequireToken(tokenManager), auth.RequireScope(auth.ScopeLockoutRecord, auth.ScopeLockoutAdmin))

			r.Post("/check", lockoutHandler.Check)
			r.Post("/", lockoutHandler.Record)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireToken(tokenManager))

			r.With(auth.RequireScope(auth.ScopeLockoutRead, auth.ScopeLockoutAdmin)).Get("/status", lockoutHandler.Status)
			r.With(auth.RequireScope(auth.ScopeLockoutAdmin)).Delete("/", lockoutHandler.Reset)
		})
	})
}
