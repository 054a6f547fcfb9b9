package models

import "time"

// WindowMode selects how a counting cache ages its failure counter
type WindowMode string

const (
	// WindowSliding keeps a counter alive until CoolOff has passed since its latest failure
	WindowSliding WindowMode = "sliding"
	// WindowFixed expires a counter CoolOff after the first failure of its window
	WindowFixed WindowMode = "fixed"
)

// Valid reports whether m is a known window mode
func (m WindowMode) Valid() bool {
	return m == WindowSliding || m == WindowFixed
}

// CoolOffPolicy describes how failures age. A zero Duration is a permalock.
// Threshold is the failure count that locks a key; durable logs use it to
// find the failure whose expiry lifts the lock.
type CoolOffPolicy struct {
	Duration       time.Duration
	ResetOnSuccess bool
	Window         WindowMode
	Threshold      int
}

// Permanent reports whether lockouts only clear on explicit reset
func (p CoolOffPolicy) Permanent() bool {
	return p.Duration <= 0
}

// Since returns the start of the trailing window at now, or the zero time
// when failures never age out.
func (p CoolOffPolicy) Since(now time.Time) time.Time {
	if p.Permanent() {
		return time.Time{}
	}
	return now.Add(-p.Duration)
}

// ClientKey is the canonical identity that attempts are grouped under.
// Value is built only from the parts selected by the key policy; the raw parts
// are kept for storage columns and reset filters.
type ClientKey struct {
	Value     string
	Username  string
	IPAddress string
	UserAgent string
	Path      string
}

// String returns the canonical key
func (k ClientKey) String() string {
	return k.Value
}
