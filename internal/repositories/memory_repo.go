package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// MemoryAttemptStore is a process-local counting cache with the same window
// rules as the Redis store. Each key has its own mutex; there is no lock
// across keys. Successful attempts are not kept.
type MemoryAttemptStore struct {
	entries sync.Map // client key -> *memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	mu      sync.Mutex
	deleted bool

	count     int
	first     time.Time
	last      time.Time
	expiresAt time.Time // zero means no expiry
	ip        string
	username  string
}

// MemoryOption configures a MemoryAttemptStore
type MemoryOption func(*MemoryAttemptStore)

// WithMemoryClock sets the clock used by Clear and ClearMatching to skip
// counters that have already run out
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryAttemptStore) {
		s.now = now
	}
}

// NewMemoryAttemptStore creates an empty store
func NewMemoryAttemptStore(opts ...MemoryOption) *MemoryAttemptStore {
	s := &MemoryAttemptStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *memoryEntry) counter() models.FailureCounter {
	c := models.FailureCounter{
		Count:       e.count,
		WindowStart: e.first,
		LastFailure: e.last,
	}
	if !e.expiresAt.IsZero() {
		expires := e.expiresAt
		c.ExpiresAt = &expires
	}
	return c
}

// Append is a no-op; the cache keeps counters only
func (s *MemoryAttemptStore) Append(ctx context.Context, _ *models.AccessAttempt) error {
	return ctx.Err()
}

func (s *MemoryAttemptStore) RecordFailure(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error) {
	if err := ctx.Err(); err != nil {
		return models.FailureCounter{}, storageError(err)
	}

	now := attempt.AttemptTime
	for {
		v, _ := s.entries.LoadOrStore(attempt.ClientKey, &memoryEntry{})
		e := v.(*memoryEntry)

		e.mu.Lock()
		if e.deleted {
			// Lost a race with Clear; the map now holds a fresh entry or none
			e.mu.Unlock()
			continue
		}

		// An expired counter is cleared lazily by the next write
		if e.count > 0 && e.expired(now) {
			e.count = 0
			e.expiresAt = time.Time{}
		}

		e.count++
		if e.count == 1 {
			e.first = now
		}
		e.last = now
		e.ip = attempt.IPAddress
		e.username = attempt.Username

		switch {
		case policy.Permanent():
			e.expiresAt = time.Time{}
		case policy.Window == models.WindowFixed:
			if e.count == 1 {
				e.expiresAt = now.Add(policy.Duration)
			}
		default:
			e.expiresAt = now.Add(policy.Duration)
		}

		c := e.counter()
		e.mu.Unlock()
		return c, nil
	}
}

// CountFailures reports the stored counter. Expired counters are returned as
// they are; callers decide with FailureCounter.Expired.
func (s *MemoryAttemptStore) CountFailures(ctx context.Context, key string, _ models.CoolOffPolicy, _ time.Time) (models.FailureCounter, error) {
	if err := ctx.Err(); err != nil {
		return models.FailureCounter{}, storageError(err)
	}

	v, ok := s.entries.Load(key)
	if !ok {
		return models.FailureCounter{}, nil
	}

	e := v.(*memoryEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.FailureCounter{}, nil
	}
	return e.counter(), nil
}

// remove deletes the entry and returns the live count it held
func (s *MemoryAttemptStore) remove(key string, e *memoryEntry, now time.Time) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return 0
	}
	e.deleted = true
	s.entries.CompareAndDelete(key, e)
	if e.expired(now) {
		return 0
	}
	return int64(e.count)
}

func (s *MemoryAttemptStore) Clear(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError(err)
	}

	v, ok := s.entries.Load(key)
	if !ok {
		return 0, nil
	}
	return s.remove(key, v.(*memoryEntry), s.now()), nil
}

func (s *MemoryAttemptStore) ClearMatching(ctx context.Context, filter models.ResetFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError(err)
	}

	now := s.now()
	var removed int64
	s.entries.Range(func(k, v any) bool {
		e := v.(*memoryEntry)
		e.mu.Lock()
		match := (filter.IPAddress == "" || e.ip == filter.IPAddress) &&
			(filter.Username == "" || e.username == filter.Username)
		e.mu.Unlock()

		if match {
			removed += s.remove(k.(string), e, now)
		}
		return true
	})
	return removed, nil
}

// DeleteExpired drops counters that have run out
func (s *MemoryAttemptStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	s.entries.Range(func(k, v any) bool {
		if ctx.Err() != nil {
			return false
		}
		e := v.(*memoryEntry)
		e.mu.Lock()
		if !e.deleted && e.expired(now) {
			e.deleted = true
			s.entries.CompareAndDelete(k, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed, storageError(ctx.Err())
}

func (s *MemoryAttemptStore) Ping(ctx context.Context) error {
	return storageError(ctx.Err())
}
