package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError folds driver errors into the domain sentinels. Anything the
// store cannot recover from becomes ErrStorage.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502", "23514": // not_null_violation, check_violation
			return fmt.Errorf("%w: %s", models.ErrBadRequest, pgErr.Message)
		}
	}

	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}

// WithTransaction runs fn in a transaction, committing on success
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
