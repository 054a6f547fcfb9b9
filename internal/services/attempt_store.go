package services

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// AttemptStore persists attempts and failure counters per client key.
// Errors are wrapped with models.ErrStorage.
type AttemptStore interface {
	// Append records an attempt without touching the failure counter
	Append(ctx context.Context, attempt *models.AccessAttempt) error
	// RecordFailure appends a failure and returns the key's new counter atomically
	RecordFailure(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error)
	// CountFailures returns the key's counter at now; an unknown key has a zero counter
	CountFailures(ctx context.Context, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error)
	// Clear removes the key's history and counters and reports how many were removed
	Clear(ctx context.Context, key string) (int64, error)
	// ClearMatching removes everything matching filter; an empty filter clears all
	ClearMatching(ctx context.Context, filter models.ResetFilter) (int64, error)
	Ping(ctx context.Context) error
}

// ExpiredAttemptPurger is implemented by stores whose records need sweeping
type ExpiredAttemptPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
