package repositories

import (
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// windowBound returns the exclusive lower bound of the trailing window, or nil
// when failures never age out.
func windowBound(policy models.CoolOffPolicy, now time.Time) *time.Time {
	if policy.Permanent() {
		return nil
	}
	since := policy.Since(now)
	return &since
}

// logCounter builds the counter for a durable log. lift is the failure whose
// expiry brings the count below the policy threshold; without one the lock
// lifts when the newest failure leaves the window.
func logCounter(count int, first, last, lift *time.Time, policy models.CoolOffPolicy) models.FailureCounter {
	if count == 0 || first == nil || last == nil {
		return models.FailureCounter{}
	}

	counter := models.FailureCounter{
		Count:       count,
		WindowStart: first.UTC(),
		LastFailure: last.UTC(),
	}
	if !policy.Permanent() {
		expires := counter.LastFailure.Add(policy.Duration)
		if lift != nil {
			expires = lift.UTC().Add(policy.Duration)
		}
		counter.ExpiresAt = &expires
	}
	return counter
}

// liftOffset returns the OFFSET of the failure, newest first, that holds a
// lock in place, or false when the count is below the threshold.
func liftOffset(count int, policy models.CoolOffPolicy) (int, bool) {
	if policy.Permanent() || policy.Threshold < 1 || count < policy.Threshold {
		return 0, false
	}
	return policy.Threshold - 1, true
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
