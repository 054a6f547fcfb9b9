package models

import "time"

// Lockout reasons returned to callers in a denied Decision
const (
	ReasonLockedOut            = "locked_out"
	ReasonPermanentlyLockedOut = "permanently_locked_out"
	ReasonStoreUnavailable     = "lockout_store_unavailable"
)

// Decision is the answer to a pre-authentication check. Boundary layers render
// it; it never carries raw store errors.
type Decision struct {
	Allowed      bool           `json:"allowed"`
	Reason       string         `json:"reason,omitempty"`
	Message      string         `json:"message,omitempty"`
	RetryAfter   *time.Duration `json:"-"`
	FailureLimit int            `json:"failure_limit,omitempty"`
	Failures     int            `json:"failures,omitempty"`
	Username     string         `json:"username,omitempty"`
	CoolOffTime  string         `json:"cooloff_time,omitempty"`
}

// Allow is the decision for a client that may attempt to authenticate
func Allow() Decision {
	return Decision{Allowed: true}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, or returns 0 when unknown
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter == nil || *d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(*d.RetryAfter / time.Second)
	if *d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
