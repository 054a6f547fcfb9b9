package routes_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "routes-test-secret-0123456789abcdef"

func newRouter(t *testing.T, tm *auth.TokenManager) http.Handler {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	lockout, err := services.NewLockoutService(repositories.NewMemoryAttemptStore(), services.LockoutConfig{
		FailureLimit: 3,
		Policy:       models.CoolOffPolicy{Duration: time.Hour, Window: models.WindowSliding, ResetOnSuccess: true},
	}, log)
	require.NoError(t, err)

	resolver, err := identity.NewResolver(identity.PolicyIP, false, nil)
	require.NoError(t, err)

	guard := services.NewGuardService(lockout, resolver, logger.NewAuditLogger(log, "development"), services.GuardConfig{
		FailOpen:       true,
		CoolOffMessage: "Account locked: too many login attempts. Please try again later.",
	}, log)

	router := chi.NewRouter()
	routes.RegisterRoutes(router, handlers.NewLockoutHandler(guard, "memory", 3, log), tm, middleware.DefaultAPIRateLimit(nil))
	return router
}

func do(t *testing.T, h http.Handler, method, url, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLockoutFlow(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, time.Minute)
	admin, err := tm.GenerateToken("ops", auth.ScopeLockoutAdmin)
	require.NoError(t, err)
	reader, err := tm.GenerateToken("ops", auth.ScopeLockoutRead)
	require.NoError(t, err)
	login, err := tm.GenerateToken("login-service", auth.ScopeLockoutRecord)
	require.NoError(t, err)

	router := newRouter(t, tm)
	failure := `{"ip_address":"10.0.0.1","username":"alice","outcome":"failure"}`

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodPost, "/v1/attempts", failure, login)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	// Third failure reaches the limit
	rec := do(t, router, http.MethodPost, "/v1/attempts", failure, login)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	rec = do(t, router, http.MethodPost, "/v1/attempts/check", `{"ip_address":"10.0.0.1"}`, login)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Other clients are unaffected
	rec = do(t, router, http.MethodPost, "/v1/attempts/check", `{"ip_address":"10.0.0.2"}`, login)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/attempts/status?ip=10.0.0.1", "", reader)
	require.Equal(t, http.StatusOK, rec.Code)
	var status handlers.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "locked_out", status.State)
	assert.Equal(t, 3, status.Failures)

	// Readers cannot reset
	rec = do(t, router, http.MethodDelete, "/v1/attempts?ip=10.0.0.1", "", reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodDelete, "/v1/attempts?ip=10.0.0.1", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":3,"message":"3 attempts removed."}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/v1/attempts/check", `{"ip_address":"10.0.0.1"}`, login)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	router := newRouter(t, auth.NewTokenManager(testSecret, time.Minute))

	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodDelete, "/v1/attempts", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/v1/attempts/status?ip=10.0.0.1", "", "").Code)
}

func TestAttemptRoutesRequireRecordScope(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, time.Minute)
	login, err := tm.GenerateToken("login-service", auth.ScopeLockoutRecord)
	require.NoError(t, err)
	reader, err := tm.GenerateToken("ops", auth.ScopeLockoutRead)
	require.NoError(t, err)

	router := newRouter(t, tm)
	failure := `{"ip_address":"10.0.0.1","outcome":"failure"}`
	success := `{"ip_address":"10.0.0.1","outcome":"success"}`
	check := `{"ip_address":"10.0.0.1"}`

	for i := 0; i < 3; i++ {
		do(t, router, http.MethodPost, "/v1/attempts", failure, login)
	}
	require.Equal(t, http.StatusForbidden, do(t, router, http.MethodPost, "/v1/attempts/check", check, login).Code)

	// Anonymous callers can neither clear nor add failures
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPost, "/v1/attempts", success, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPost, "/v1/attempts/check", check, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPost, "/v1/attempts", `{"ip_address":"10.0.0.9","outcome":"failure"}`, "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, router, http.MethodPost, "/v1/attempts", success, reader).Code)

	assert.Equal(t, http.StatusForbidden, do(t, router, http.MethodPost, "/v1/attempts/check", check, login).Code, "lockout survives anonymous success")

	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/v1/attempts", success, login).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/v1/attempts/check", check, login).Code)
}

func TestOperatorRoutesDisabledWithoutTokenManager(t *testing.T) {
	router := newRouter(t, nil)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/v1/attempts/check", `{"ip_address":"10.0.0.1"}`, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, router, http.MethodDelete, "/v1/attempts", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", "", "").Code)
}
