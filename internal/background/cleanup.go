package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger removes attempt records that have outlived their retention
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically sweeps expired attempts from the store
type CleanupManager struct {
	purger   Purger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(purger Purger, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		purger:   purger,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop is called or
// ctx is cancelled; a non-positive interval disables the sweep.
func (cm *CleanupManager) Start(ctx context.Context) {
	if cm.interval <= 0 {
		cm.logger.Info("attempt cleanup disabled")
		return
	}

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes expired attempts
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	removed, err := cm.purger.PurgeExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to purge expired attempts", slog.Any("error", err))
		return
	}

	if removed > 0 {
		cm.logger.Info("expired attempt cleanup completed", slog.Int64("rows_deleted", removed))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
