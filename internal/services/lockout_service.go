package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// LockoutState is the engine's view of a client key
type LockoutState string

const (
	StateAllowed        LockoutState = "allowed"
	StateLockedOut      LockoutState = "locked_out"
	StateCoolOffExpired LockoutState = "cool_off_expired"
)

// Blocked reports whether the state denies authentication
func (s LockoutState) Blocked() bool {
	return s == StateLockedOut
}

// LockoutConfig holds the lockout policy
type LockoutConfig struct {
	FailureLimit int
	Policy       models.CoolOffPolicy
	// LogRetention is how long durable log rows are kept. Zero keeps them for
	// twice the cool-off, or forever under a permalock.
	LogRetention time.Duration
}

// LockoutStatus is the result of a read-only lockout check
type LockoutStatus struct {
	State   LockoutState
	Counter models.FailureCounter
	// RetryAfter is nil when the lock never lifts on its own
	RetryAfter *time.Duration
}

// LockoutService decides whether a client key is locked out
type LockoutService struct {
	store  AttemptStore
	config LockoutConfig
	logger *slog.Logger
	now    func() time.Time
}

// LockoutOption configures a LockoutService
type LockoutOption func(*LockoutService)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) LockoutOption {
	return func(s *LockoutService) {
		s.now = now
	}
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(store AttemptStore, config LockoutConfig, logger *slog.Logger, opts ...LockoutOption) (*LockoutService, error) {
	if config.FailureLimit < 1 {
		return nil, fmt.Errorf("%w: failure limit must be at least 1 (got %d)", models.ErrConfiguration, config.FailureLimit)
	}
	if config.Policy.Duration < 0 {
		return nil, fmt.Errorf("%w: cool-off must not be negative", models.ErrConfiguration)
	}
	if config.LogRetention < 0 {
		return nil, fmt.Errorf("%w: log retention must not be negative", models.ErrConfiguration)
	}
	// Rows must outlive every window they can be counted in
	if config.LogRetention > 0 && (config.Policy.Permanent() || config.LogRetention < config.Policy.Duration) {
		return nil, fmt.Errorf("%w: log retention %s is shorter than the cool-off", models.ErrConfiguration, config.LogRetention)
	}
	if config.Policy.Window == "" {
		config.Policy.Window = models.WindowSliding
	}
	if !config.Policy.Window.Valid() {
		return nil, fmt.Errorf("%w: unknown window mode %q", models.ErrConfiguration, config.Policy.Window)
	}
	config.Policy.Threshold = config.FailureLimit

	s := &LockoutService{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the policy the service enforces
func (s *LockoutService) Config() LockoutConfig {
	return s.config
}

// Now returns the service clock's current time
func (s *LockoutService) Now() time.Time {
	return s.now().UTC()
}

func (s *LockoutService) retention() time.Duration {
	if s.config.LogRetention > 0 {
		return s.config.LogRetention
	}
	if s.config.Policy.Permanent() {
		return 0
	}
	return 2 * s.config.Policy.Duration
}

func (s *LockoutService) stamp(attempt *models.AccessAttempt, outcome models.Outcome) {
	attempt.Outcome = outcome
	if attempt.AttemptTime.IsZero() {
		attempt.AttemptTime = s.Now()
	}
	if keep := s.retention(); keep > 0 {
		attempt.ExpiresAt = attempt.AttemptTime.Add(keep)
	}
}

// RecordFailure counts a failed attempt. The failure that brings the count to
// the limit locks the key.
func (s *LockoutService) RecordFailure(ctx context.Context, attempt *models.AccessAttempt) (LockoutState, models.FailureCounter, error) {
	s.stamp(attempt, models.OutcomeFailure)

	counter, err := s.store.RecordFailure(ctx, attempt, s.config.Policy)
	if err != nil {
		return StateAllowed, models.FailureCounter{}, fmt.Errorf("record failure: %w", err)
	}

	if counter.Count >= s.config.FailureLimit {
		return StateLockedOut, counter, nil
	}
	return StateAllowed, counter, nil
}

// Triggered reports whether counter is the one that moved its key into lockout
func (s *LockoutService) Triggered(counter models.FailureCounter) bool {
	return counter.Count == s.config.FailureLimit
}

// RecordSuccess stores a successful attempt. With reset-on-success the key's
// failures are cleared; otherwise they are left as they are.
func (s *LockoutService) RecordSuccess(ctx context.Context, attempt *models.AccessAttempt) (LockoutState, error) {
	s.stamp(attempt, models.OutcomeSuccess)

	if err := s.store.Append(ctx, attempt); err != nil {
		return StateAllowed, fmt.Errorf("record success: %w", err)
	}

	if s.config.Policy.ResetOnSuccess {
		if _, err := s.store.Clear(ctx, attempt.ClientKey); err != nil {
			return StateAllowed, fmt.Errorf("reset on success: %w", err)
		}
		return StateAllowed, nil
	}

	status, err := s.Status(ctx, attempt.ClientKey)
	if err != nil {
		return StateAllowed, err
	}
	return status.State, nil
}

// Status reads the key's state without writing. A counter whose window has
// run out is reported as StateCoolOffExpired and is cleared by the next write.
func (s *LockoutService) Status(ctx context.Context, key string) (LockoutStatus, error) {
	now := s.Now()

	counter, err := s.store.CountFailures(ctx, key, s.config.Policy, now)
	if err != nil {
		return LockoutStatus{State: StateAllowed}, fmt.Errorf("count failures: %w", err)
	}

	status := LockoutStatus{State: StateAllowed, Counter: counter}
	switch {
	case counter.Count == 0:
	case counter.Expired(now):
		status.State = StateCoolOffExpired
	case counter.Count >= s.config.FailureLimit:
		status.State = StateLockedOut
		if counter.ExpiresAt != nil {
			retry := counter.ExpiresAt.Sub(now)
			status.RetryAfter = &retry
		}
	}
	return status, nil
}

// IsLockedOut reports whether key is currently locked out
func (s *LockoutService) IsLockedOut(ctx context.Context, key string) (bool, error) {
	status, err := s.Status(ctx, key)
	if err != nil {
		return false, err
	}
	return status.State.Blocked(), nil
}

// Reset clears key; a second reset removes nothing
func (s *LockoutService) Reset(ctx context.Context, key string) (int64, error) {
	removed, err := s.store.Clear(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	return removed, nil
}

// ResetMatching clears every key matching filter
func (s *LockoutService) ResetMatching(ctx context.Context, filter models.ResetFilter) (int64, error) {
	removed, err := s.store.ClearMatching(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("reset matching: %w", err)
	}
	return removed, nil
}

// PurgeExpired sweeps records past their retention, when the store keeps any
func (s *LockoutService) PurgeExpired(ctx context.Context) (int64, error) {
	purger, ok := s.store.(ExpiredAttemptPurger)
	if !ok {
		return 0, nil
	}
	removed, err := purger.DeleteExpired(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired attempts: %w", err)
	}
	return removed, nil
}

// Ping checks the store
func (s *LockoutService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
