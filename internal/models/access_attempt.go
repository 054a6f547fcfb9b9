package models

import "time"

// Outcome is the result of a single authentication attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// AccessAttempt is one recorded authentication attempt. Rows are never
// updated; they are removed only by an explicit reset or once ExpiresAt passes.
type AccessAttempt struct {
	ID          string    `db:"id"`
	ClientKey   string    `db:"client_key"`
	Username    string    `db:"username"`
	IPAddress   string    `db:"ip_address"`
	UserAgent   string    `db:"user_agent"`
	HTTPAccept  string    `db:"http_accept"`
	PathInfo    string    `db:"path_info"`
	Payload     string    `db:"payload"`
	Outcome     Outcome   `db:"outcome"`
	AttemptTime time.Time `db:"attempt_time"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Failed reports whether the attempt counts towards a lockout
func (a *AccessAttempt) Failed() bool {
	return a.Outcome == OutcomeFailure
}

// FailureCounter is the failure state of one client key as seen by a store
type FailureCounter struct {
	Count       int
	WindowStart time.Time
	LastFailure time.Time
	// ExpiresAt is nil when the counter never expires on its own
	ExpiresAt *time.Time
}

// Expired reports whether the counter's window has run out at now
func (c FailureCounter) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// ResetFilter selects attempts for a bulk reset. An empty filter matches everything.
type ResetFilter struct {
	IPAddress string
	Username  string
}

// IsEmpty reports whether the filter matches every record
func (f ResetFilter) IsEmpty() bool {
	return f.IPAddress == "" && f.Username == ""
}
