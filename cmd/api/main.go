package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/app"
	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := pkglogger.New(os.Stdout, "info")
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize the attempt store and lockout engine
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	lockoutApp, err := app.New(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Error("failed to initialize lockout engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer lockoutApp.Close()

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(lockoutApp.Lockout, logger, cfg.Lockout.CleanupInterval)

	// Operator routes need a signing secret
	var tokenManager *auth.TokenManager
	if cfg.Auth.AdminJWTSecret != "" {
		tokenManager = auth.NewTokenManager(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminTokenExpiry)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, operator routes disabled")
	}

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	rateLimitConfig := middlewareCustom.DefaultAPIRateLimit(ipConfig)
	rateLimitConfig.RequestsPerMinute = cfg.Server.RequestsPerMinute

	lockoutHandler := handlers.NewLockoutHandler(lockoutApp.Guard, lockoutApp.Backend.Name, cfg.Lockout.FailureLimit, logger)

	// Setup router. Client addresses come from ExtractClientIP, which only
	// trusts forwarding headers from configured proxies, so RealIP is not used.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, lockoutHandler, tokenManager, rateLimitConfig)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
