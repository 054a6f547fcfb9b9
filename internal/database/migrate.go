package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sync"

	"github.com/pressly/goose/v3"
)

// Goose dialects for the durable attempt log
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package state
var migrateMu sync.Mutex

func runMigrations(ctx context.Context, db *sql.DB, dialect string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	dir := path.Join("migrations", "postgres")
	if dialect == DialectSQLite {
		dir = path.Join("migrations", "sqlite")
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
