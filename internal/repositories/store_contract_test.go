package repositories_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractPolicy = models.CoolOffPolicy{Duration: time.Hour, Window: models.WindowSliding}

func failedAttempt(key, ip, username string, at time.Time) *models.AccessAttempt {
	return &models.AccessAttempt{
		ClientKey:   key,
		Username:    username,
		IPAddress:   ip,
		UserAgent:   "test-agent",
		PathInfo:    "/login",
		Outcome:     models.OutcomeFailure,
		AttemptTime: at,
		ExpiresAt:   at.Add(2 * time.Hour),
	}
}

// runStoreContract checks the behaviour every AttemptStore must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) services.AttemptStore) {
	t.Run("unknown key has zero counter", func(t *testing.T) {
		store := newStore(t)
		counter, err := store.CountFailures(context.Background(), "ip=192.0.2.1", contractPolicy, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, counter.Count)
		assert.Nil(t, counter.ExpiresAt)
	})

	t.Run("record failure increments", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		for i := 1; i <= 3; i++ {
			counter, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", now), contractPolicy)
			require.NoError(t, err)
			assert.Equal(t, i, counter.Count)
			require.NotNil(t, counter.ExpiresAt)
			assert.WithinDuration(t, now.Add(time.Hour), *counter.ExpiresAt, time.Second)
		}

		counter, err := store.CountFailures(ctx, "ip=10.0.0.1", contractPolicy, now)
		require.NoError(t, err)
		assert.Equal(t, 3, counter.Count)
		assert.WithinDuration(t, now, counter.LastFailure, time.Second)
	})

	t.Run("permanent counters do not expire", func(t *testing.T) {
		store := newStore(t)
		counter, err := store.RecordFailure(context.Background(),
			failedAttempt("user=dave", "", "dave", time.Now().UTC()), models.CoolOffPolicy{})
		require.NoError(t, err)
		assert.Equal(t, 1, counter.Count)
		assert.Nil(t, counter.ExpiresAt)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for i := 0; i < 3; i++ {
			_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", now), contractPolicy)
			require.NoError(t, err)
		}

		removed, err := store.Clear(ctx, "ip=10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		removed, err = store.Clear(ctx, "ip=10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), removed)

		counter, err := store.CountFailures(ctx, "ip=10.0.0.1", contractPolicy, now)
		require.NoError(t, err)
		assert.Equal(t, 0, counter.Count)
	})

	t.Run("clear matching filters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		seed := []struct {
			user, ip string
			n        int
		}{
			{"alice", "10.0.0.1", 2},
			{"bob", "10.0.0.1", 1},
			{"alice", "10.0.0.2", 3},
			{"carol", "10.0.0.3", 4},
		}
		for _, s := range seed {
			key := fmt.Sprintf("user=%s|ip=%s", s.user, s.ip)
			for i := 0; i < s.n; i++ {
				_, err := store.RecordFailure(ctx, failedAttempt(key, s.ip, s.user, now), contractPolicy)
				require.NoError(t, err)
			}
		}

		removed, err := store.ClearMatching(ctx, models.ResetFilter{IPAddress: "10.0.0.1", Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		removed, err = store.ClearMatching(ctx, models.ResetFilter{Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		removed, err = store.ClearMatching(ctx, models.ResetFilter{IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		removed, err = store.ClearMatching(ctx, models.ResetFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(4), removed)

		removed, err = store.ClearMatching(ctx, models.ResetFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), removed)
	})

	t.Run("concurrent failures are counted once each", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		const workers = 20
		counts := make(chan int, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				counter, err := store.RecordFailure(ctx, failedAttempt("ip=10.9.9.9", "10.9.9.9", "", now), contractPolicy)
				if err != nil {
					t.Error(err)
					return
				}
				counts <- counter.Count
			}()
		}
		wg.Wait()
		close(counts)

		seen := make(map[int]bool)
		for c := range counts {
			assert.False(t, seen[c], "count %d returned twice", c)
			seen[c] = true
		}
		assert.Len(t, seen, workers)

		counter, err := store.CountFailures(ctx, "ip=10.9.9.9", contractPolicy, now)
		require.NoError(t, err)
		assert.Equal(t, workers, counter.Count)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}

// runLogWindowContract checks the trailing window of durable attempt logs
func runLogWindowContract(t *testing.T, newStore func(t *testing.T) services.AttemptStore) {
	t.Run("failures age out of the trailing window", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		start := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Millisecond)

		for i := 0; i < 3; i++ {
			_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", start), contractPolicy)
			require.NoError(t, err)
		}

		counter, err := store.CountFailures(ctx, "ip=10.0.0.1", contractPolicy, start.Add(59*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 3, counter.Count)

		counter, err = store.CountFailures(ctx, "ip=10.0.0.1", contractPolicy, start.Add(61*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, counter.Count)

		counter, err = store.CountFailures(ctx, "ip=10.0.0.1", models.CoolOffPolicy{}, start.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, counter.Count, "a permalock counts every failure")
	})

	t.Run("lock lifts when the threshold failure ages out", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		start := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Millisecond)
		policy := contractPolicy
		policy.Threshold = 3

		var counter models.FailureCounter
		for i := 0; i < 4; i++ {
			var err error
			counter, err = store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", start.Add(time.Duration(i)*10*time.Minute)), policy)
			require.NoError(t, err)
		}

		assert.Equal(t, 4, counter.Count)
		require.NotNil(t, counter.ExpiresAt)
		assert.True(t, start.Add(70*time.Minute).Equal(*counter.ExpiresAt), "expires %s", counter.ExpiresAt)

		counter, err := store.CountFailures(ctx, "ip=10.0.0.1", policy, start.Add(69*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 3, counter.Count)

		counter, err = store.CountFailures(ctx, "ip=10.0.0.1", policy, start.Add(71*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, counter.Count)
		require.NotNil(t, counter.ExpiresAt)
		assert.True(t, start.Add(90*time.Minute).Equal(*counter.ExpiresAt), "below the threshold the newest failure decides")
	})

	t.Run("successes are kept but not counted", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		success := failedAttempt("ip=10.0.0.1", "10.0.0.1", "", now)
		success.Outcome = models.OutcomeSuccess
		require.NoError(t, store.Append(ctx, success))
		assert.NotEmpty(t, success.ID)

		counter, err := store.CountFailures(ctx, "ip=10.0.0.1", contractPolicy, now)
		require.NoError(t, err)
		assert.Equal(t, 0, counter.Count)

		removed, err := store.Clear(ctx, "ip=10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("expired rows are purged", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", now.Add(-3*time.Hour)), contractPolicy)
		require.NoError(t, err)
		_, err = store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", now), contractPolicy)
		require.NoError(t, err)

		purger, ok := store.(services.ExpiredAttemptPurger)
		require.True(t, ok)
		removed, err := purger.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})
}
