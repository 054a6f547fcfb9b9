package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(ctx context.Context) (int64, error) {
	p.calls.Add(1)
	return 2, p.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCleanupManager_RunsOnStartAndTick(t *testing.T) {
	purger := &countingPurger{}
	cm := NewCleanupManager(purger, discard(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return purger.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	purger := &countingPurger{err: errors.New("store down")}
	cm := NewCleanupManager(purger, discard(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return purger.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored cancellation")
	}
}

func TestCleanupManager_DisabledInterval(t *testing.T) {
	purger := &countingPurger{}
	NewCleanupManager(purger, discard(), 0).Start(context.Background())
	assert.Zero(t, purger.calls.Load())
}
