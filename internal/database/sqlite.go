package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	_ "modernc.org/sqlite"
)

// SQLiteDB is the file-backed attempt log shared by every process on a host
type SQLiteDB struct {
	DB     *sql.DB
	logger *slog.Logger
}

// SQLiteDSN builds a modernc.org/sqlite DSN. Transactions start with
// BEGIN IMMEDIATE so that writers serialize on the database lock.
func SQLiteDSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens the SQLite file and applies pending migrations
func OpenSQLite(ctx context.Context, cfg *config.SQLiteConfig, logger *slog.Logger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(cfg.Path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping sqlite database: %w", err)
	}

	if err := runMigrations(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite attempt log opened", slog.String("path", cfg.Path))

	return &SQLiteDB{DB: db, logger: logger}, nil
}

func (s *SQLiteDB) Close() error {
	s.logger.Info("closing sqlite database")
	return s.DB.Close()
}

func (s *SQLiteDB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}
