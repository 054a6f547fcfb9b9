package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// maxBodyBytes bounds attempt request bodies
const maxBodyBytes = 64 << 10

// GuardServiceInterface defines the guard operations the handlers use
type GuardServiceInterface interface {
	PreAuthenticate(ctx context.Context, id identity.Identity) models.Decision
	RecordOutcome(ctx context.Context, id identity.Identity, outcome models.Outcome) (models.Decision, error)
	AdministrativeReset(ctx context.Context, filter models.ResetFilter) (int64, error)
	Status(ctx context.Context, id identity.Identity) (models.ClientKey, services.LockoutStatus, error)
	Ping(ctx context.Context) error
}

// LockoutHandler serves the lockout API
type LockoutHandler struct {
	guard        GuardServiceInterface
	backend      string
	failureLimit int
	logger       *slog.Logger
}

// NewLockoutHandler creates a new LockoutHandler
func NewLockoutHandler(guard GuardServiceInterface, backend string, failureLimit int, logger *slog.Logger) *LockoutHandler {
	return &LockoutHandler{
		guard:        guard,
		backend:      backend,
		failureLimit: failureLimit,
		logger:       logger,
	}
}

func (req AttemptRequest) identity() identity.Identity {
	return identity.Identity{
		Username:    req.Username,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Path:        req.Path,
		HTTPAccept:  req.HTTPAccept,
		Credentials: req.Credentials,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// Check handles POST /v1/attempts/check
func (h *LockoutHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req AttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision := h.guard.PreAuthenticate(r.Context(), req.identity())
	if !decision.Allowed {
		middleware.WriteDecision(w, decision)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// Record handles POST /v1/attempts
func (h *LockoutHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision, err := h.guard.RecordOutcome(r.Context(), req.identity(), models.Outcome(req.Outcome))
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !decision.Allowed {
		middleware.WriteDecision(w, decision)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, decision)
}

// Reset handles DELETE /v1/attempts?ip=&username=
func (h *LockoutHandler) Reset(w http.ResponseWriter, r *http.Request) {
	query := ResetQuery{
		IPAddress: r.URL.Query().Get("ip"),
		Username:  r.URL.Query().Get("username"),
	}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	removed, err := h.guard.AdministrativeReset(r.Context(), models.ResetFilter{
		IPAddress: query.IPAddress,
		Username:  query.Username,
	})
	if err != nil {
		h.logger.Error("administrative reset failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Attempt store unavailable")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResetResponse{
		Removed: removed,
		Message: ResetMessage(removed),
	})
}

// Status handles GET /v1/attempts/status?ip=&username=
func (h *LockoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	query := ResetQuery{
		IPAddress: r.URL.Query().Get("ip"),
		Username:  r.URL.Query().Get("username"),
	}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	key, status, err := h.guard.Status(r.Context(), identity.Identity{
		Username:  query.Username,
		IPAddress: query.IPAddress,
		UserAgent: r.URL.Query().Get("user_agent"),
	})
	switch {
	case errors.Is(err, models.ErrInvalidIdentity):
		pkghttp.WriteBadRequest(w, "ip or username is required by the key policy")
		return
	case err != nil:
		h.logger.Error("status lookup failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Attempt store unavailable")
		return
	}

	resp := StatusResponse{
		Client:       identity.Verbose(key),
		State:        string(status.State),
		Failures:     status.Counter.Count,
		FailureLimit: h.failureLimit,
	}
	if status.RetryAfter != nil {
		resp.RetryAfterSeconds = int64(math.Ceil(status.RetryAfter.Seconds()))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *LockoutHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", slog.Any("error", err))
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Backend: h.backend})
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Backend: h.backend})
}

// ResetMessage is the operator-facing summary of a reset
func ResetMessage(removed int64) string {
	if removed == 0 {
		return "No attempts found."
	}
	return fmt.Sprintf("%d attempts removed.", removed)
}
