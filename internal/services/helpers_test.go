package services_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock shared by the engine and the memory store
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockAttemptStore implements AttemptStore for testing
type MockAttemptStore struct {
	AppendFunc        func(ctx context.Context, attempt *models.AccessAttempt) error
	RecordFailureFunc func(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error)
	CountFailuresFunc func(ctx context.Context, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error)
	ClearFunc         func(ctx context.Context, key string) (int64, error)
	ClearMatchingFunc func(ctx context.Context, filter models.ResetFilter) (int64, error)
	PingFunc          func(ctx context.Context) error
}

func (m *MockAttemptStore) Append(ctx context.Context, attempt *models.AccessAttempt) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, attempt)
	}
	return nil
}

func (m *MockAttemptStore) RecordFailure(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, attempt, policy)
	}
	return models.FailureCounter{}, nil
}

func (m *MockAttemptStore) CountFailures(ctx context.Context, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
	if m.CountFailuresFunc != nil {
		return m.CountFailuresFunc(ctx, key, policy, now)
	}
	return models.FailureCounter{}, nil
}

func (m *MockAttemptStore) Clear(ctx context.Context, key string) (int64, error) {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, key)
	}
	return 0, nil
}

func (m *MockAttemptStore) ClearMatching(ctx context.Context, filter models.ResetFilter) (int64, error) {
	if m.ClearMatchingFunc != nil {
		return m.ClearMatchingFunc(ctx, filter)
	}
	return 0, nil
}

func (m *MockAttemptStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// unavailableStore fails every call the way a down backend would
func unavailableStore() *MockAttemptStore {
	fail := func() error { return models.ErrStorage }
	return &MockAttemptStore{
		AppendFunc: func(ctx context.Context, attempt *models.AccessAttempt) error { return fail() },
		RecordFailureFunc: func(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error) {
			return models.FailureCounter{}, fail()
		},
		CountFailuresFunc: func(ctx context.Context, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
			return models.FailureCounter{}, fail()
		},
		ClearFunc:         func(ctx context.Context, key string) (int64, error) { return 0, fail() },
		ClearMatchingFunc: func(ctx context.Context, filter models.ResetFilter) (int64, error) { return 0, fail() },
		PingFunc:          func(ctx context.Context) error { return fail() },
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newLockout(t *testing.T, store services.AttemptStore, limit int, policy models.CoolOffPolicy, clock *fakeClock) *services.LockoutService {
	t.Helper()
	svc, err := services.NewLockoutService(store, services.LockoutConfig{
		FailureLimit: limit,
		Policy:       policy,
	}, discardLogger(), services.WithClock(clock.Now))
	require.NoError(t, err)
	return svc
}

func newMemoryLockout(t *testing.T, limit int, policy models.CoolOffPolicy) (*services.LockoutService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := repositories.NewMemoryAttemptStore(repositories.WithMemoryClock(clock.Now))
	return newLockout(t, store, limit, policy, clock), clock
}

func guardConfig() services.GuardConfig {
	return services.GuardConfig{
		FailOpen:         true,
		StoreTimeout:     time.Second,
		PasswordField:    "password",
		CoolOffMessage:   "Account locked: too many login attempts. Please try again later.",
		PermalockMessage: "Account locked: too many login attempts. Contact an admin to unlock your account.",
	}
}

// newGuard builds a guard over lockout with an ip-only key policy. Audit
// output is written to the returned buffer.
func newGuard(t *testing.T, lockout *services.LockoutService, policy identity.KeyPolicy, cfg services.GuardConfig) (*services.GuardService, *bytes.Buffer) {
	t.Helper()
	resolver, err := identity.NewResolver(policy, false, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	audit := logger.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), "development")
	return services.NewGuardService(lockout, resolver, audit, cfg, discardLogger()), &buf
}

func failure(key string) *models.AccessAttempt {
	return &models.AccessAttempt{ClientKey: key, IPAddress: "10.0.0.1"}
}
