package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// SQLiteAttemptRepository is the SQLite attempt log. Times are stored as unix nanoseconds.
type SQLiteAttemptRepository struct {
	db *database.SQLiteDB
}

// NewSQLiteAttemptRepository creates a new SQLiteAttemptRepository
func NewSQLiteAttemptRepository(db *database.SQLiteDB) *SQLiteAttemptRepository {
	return &SQLiteAttemptRepository{db: db}
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}

func sqliteInsert(ctx context.Context, q sqlExecer, attempt *models.AccessAttempt) error {
	var expires any
	if !attempt.ExpiresAt.IsZero() {
		expires = attempt.ExpiresAt.UnixNano()
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO access_attempts
			(client_key, username, ip_address, user_agent, http_accept, path_info, payload, outcome, attempt_time, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ClientKey,
		attempt.Username,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.HTTPAccept,
		attempt.PathInfo,
		attempt.Payload,
		string(attempt.Outcome),
		attempt.AttemptTime.UnixNano(),
		expires,
	)
	if err != nil {
		return err
	}

	if id, err := res.LastInsertId(); err == nil {
		attempt.ID = strconv.FormatInt(id, 10)
	}
	return nil
}

func sqliteCount(ctx context.Context, q sqlExecer, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
	var since int64 = -1 << 63
	if bound := windowBound(policy, now); bound != nil {
		since = bound.UnixNano()
	}

	var (
		count       int
		first, last sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(attempt_time), MAX(attempt_time) FROM access_attempts
		WHERE client_key = ? AND outcome = 'failure' AND attempt_time > ?`,
		key, since,
	).Scan(&count, &first, &last)
	if err != nil {
		return models.FailureCounter{}, err
	}

	var lift sql.NullInt64
	if offset, ok := liftOffset(count, policy); ok {
		err := q.QueryRowContext(ctx, `
			SELECT attempt_time FROM access_attempts
			WHERE client_key = ? AND outcome = 'failure' AND attempt_time > ?
			ORDER BY attempt_time DESC LIMIT 1 OFFSET ?`,
			key, since, offset,
		).Scan(&lift)
		if err != nil {
			return models.FailureCounter{}, err
		}
	}

	return logCounter(count, fromNanos(first), fromNanos(last), fromNanos(lift), policy), nil
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func (r *SQLiteAttemptRepository) Append(ctx context.Context, attempt *models.AccessAttempt) error {
	return storageError(sqliteInsert(ctx, r.db.DB, attempt))
}

// RecordFailure appends a failure and counts the window in one IMMEDIATE
// transaction. The write lock is taken at BEGIN, so increments from every
// process sharing the file are serialized.
func (r *SQLiteAttemptRepository) RecordFailure(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error) {
	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.FailureCounter{}, storageError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := sqliteInsert(ctx, tx, attempt); err != nil {
		return models.FailureCounter{}, storageError(err)
	}

	counter, err := sqliteCount(ctx, tx, attempt.ClientKey, policy, attempt.AttemptTime)
	if err != nil {
		return models.FailureCounter{}, storageError(err)
	}

	if err := tx.Commit(); err != nil {
		return models.FailureCounter{}, storageError(err)
	}
	return counter, nil
}

func (r *SQLiteAttemptRepository) CountFailures(ctx context.Context, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
	counter, err := sqliteCount(ctx, r.db.DB, key, policy, now)
	return counter, storageError(err)
}

func (r *SQLiteAttemptRepository) Clear(ctx context.Context, key string) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM access_attempts WHERE client_key = ?`, key)
	if err != nil {
		return 0, storageError(err)
	}
	n, err := res.RowsAffected()
	return n, storageError(err)
}

func (r *SQLiteAttemptRepository) ClearMatching(ctx context.Context, filter models.ResetFilter) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `
		DELETE FROM access_attempts
		WHERE (?1 = '' OR ip_address = ?1) AND (?2 = '' OR username = ?2)`,
		filter.IPAddress, filter.Username,
	)
	if err != nil {
		return 0, storageError(err)
	}
	n, err := res.RowsAffected()
	return n, storageError(err)
}

func (r *SQLiteAttemptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx,
		`DELETE FROM access_attempts WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, storageError(err)
	}
	n, err := res.RowsAffected()
	return n, storageError(err)
}

func (r *SQLiteAttemptRepository) Ping(ctx context.Context) error {
	return storageError(r.db.HealthCheck(ctx))
}
