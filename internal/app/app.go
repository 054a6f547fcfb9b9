package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// App holds the lockout components shared by the server and the operator CLI
type App struct {
	Backend  *repositories.Backend
	Lockout  *services.LockoutService
	Resolver *identity.Resolver
	Guard    *services.GuardService
}

// New opens the configured store and builds the lockout engine on top of it
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	backend, err := repositories.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Lockout.Backend, err)
	}

	lockout, err := services.NewLockoutService(backend.Store, services.LockoutConfig{
		FailureLimit: cfg.Lockout.FailureLimit,
		Policy:       cfg.Lockout.Policy(),
		LogRetention: cfg.Lockout.LogRetention,
	}, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	resolver, err := identity.NewResolver(
		identity.KeyPolicy(cfg.Lockout.KeyPolicy),
		cfg.Lockout.UseUserAgent,
		identity.DefaultUsernameResolver(cfg.Lockout.UsernameField),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}

	guard := services.NewGuardService(
		lockout,
		resolver,
		pkglogger.NewAuditLogger(logger, cfg.Server.Env),
		services.GuardConfig{
			FailOpen:         cfg.Lockout.FailOpen,
			StoreTimeout:     cfg.Lockout.StoreTimeout,
			PasswordField:    cfg.Lockout.PasswordField,
			CoolOffMessage:   cfg.Lockout.CoolOffMessage,
			PermalockMessage: cfg.Lockout.PermalockMessage,
		},
		logger,
	)

	cooloff := services.ISO8601Duration(cfg.Lockout.CoolOff.Duration())
	if cooloff == "" {
		cooloff = "permanent"
	}
	logger.Info("lockout engine ready",
		slog.String("backend", backend.Name),
		slog.Int("failure_limit", cfg.Lockout.FailureLimit),
		slog.String("cooloff", cooloff),
		slog.String("key_policy", cfg.Lockout.KeyPolicy))

	return &App{
		Backend:  backend,
		Lockout:  lockout,
		Resolver: resolver,
		Guard:    guard,
	}, nil
}

// Close releases the store connection
func (a *App) Close() error {
	return a.Backend.Close()
}
