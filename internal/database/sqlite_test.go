package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/var/lib/gatekeeper.db", 5*time.Second)

	assert.Contains(t, dsn, "file:/var/lib/gatekeeper.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "busy_timeout%285000%29")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
}

func TestOpenSQLite_MigratesSchema(t *testing.T) {
	ctx := context.Background()
	cfg := &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "attempts.db"), BusyTimeout: time.Second}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	db, err := OpenSQLite(ctx, cfg, logger)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.HealthCheck(ctx))

	var count int
	require.NoError(t, db.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_attempts").Scan(&count))
	assert.Zero(t, count)

	// Reopening an up-to-date file is a no-op
	again, err := OpenSQLite(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestMapPostgresError(t *testing.T) {
	assert.NoError(t, MapPostgresError(nil))
	assert.ErrorIs(t, MapPostgresError(pgx.ErrNoRows), models.ErrNotFound)
	assert.ErrorIs(t, MapPostgresError(&pgconn.PgError{Code: "23502"}), models.ErrBadRequest)
	assert.ErrorIs(t, MapPostgresError(&pgconn.PgError{Code: "23514"}), models.ErrBadRequest)

	err := MapPostgresError(errors.New("connection reset"))
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Contains(t, err.Error(), "connection reset")
}
