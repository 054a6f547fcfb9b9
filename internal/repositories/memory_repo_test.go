package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttemptStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) services.AttemptStore {
		return repositories.NewMemoryAttemptStore()
	})
}

func TestMemoryAttemptStore_ExpiredCounterRestarts(t *testing.T) {
	store := repositories.NewMemoryAttemptStore()
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", start), contractPolicy)
		require.NoError(t, err)
	}

	counter, err := store.CountFailures(ctx, "ip=10.0.0.1", contractPolicy, start.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, counter.Expired(start.Add(61*time.Minute)))

	counter, err = store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", start.Add(61*time.Minute)), contractPolicy)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Count)
	assert.Equal(t, start.Add(61*time.Minute), counter.WindowStart)
}

func TestMemoryAttemptStore_FixedWindowKeepsFirstExpiry(t *testing.T) {
	store := repositories.NewMemoryAttemptStore()
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fixed := models.CoolOffPolicy{Duration: time.Hour, Window: models.WindowFixed}

	_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", start), fixed)
	require.NoError(t, err)
	counter, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", start.Add(30*time.Minute)), fixed)
	require.NoError(t, err)

	require.NotNil(t, counter.ExpiresAt)
	assert.Equal(t, start.Add(time.Hour), *counter.ExpiresAt)
}

func TestMemoryAttemptStore_ClearSkipsExpiredCounters(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := repositories.NewMemoryAttemptStore(repositories.WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", now.Add(-2*time.Hour)), contractPolicy)
	require.NoError(t, err)

	removed, err := store.Clear(ctx, "ip=10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestMemoryAttemptStore_CanceledContext(t *testing.T) {
	store := repositories.NewMemoryAttemptStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.RecordFailure(ctx, failedAttempt("ip=10.0.0.1", "10.0.0.1", "", time.Now()), contractPolicy)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.ErrorIs(t, err, context.Canceled)
}
