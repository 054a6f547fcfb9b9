package repositories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/redis/go-redis/v9"
)

// Backend is the attempt store selected by configuration together with the
// connection it owns
type Backend struct {
	Name  string
	Store services.AttemptStore

	close func() error
}

// Close releases the backend's connection
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Purger returns the store's expiry sweep, if it has one
func (b *Backend) Purger() (services.ExpiredAttemptPurger, bool) {
	p, ok := b.Store.(services.ExpiredAttemptPurger)
	return p, ok
}

// Open connects the configured backend
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Lockout.Backend {
	case config.BackendPostgres:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		return &Backend{
			Name:  config.BackendPostgres,
			Store: NewAttemptRepository(db),
			close: func() error { db.Close(); return nil },
		}, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(ctx, &cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		return &Backend{
			Name:  config.BackendSQLite,
			Store: NewSQLiteAttemptRepository(db),
			close: db.Close,
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: unable to reach redis: %w", models.ErrStorage, err)
		}
		logger.Info("redis connection established", slog.String("addr", cfg.Redis.Addr))
		return &Backend{
			Name:  config.BackendRedis,
			Store: NewCounterRepository(client, cfg.Redis.KeyPrefix),
			close: client.Close,
		}, nil

	case config.BackendMemory:
		logger.Warn("using process-local attempt store; counters are not shared between instances")
		return &Backend{
			Name:  config.BackendMemory,
			Store: NewMemoryAttemptStore(),
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown backend %q", models.ErrConfiguration, cfg.Lockout.Backend)
}
