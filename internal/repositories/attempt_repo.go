package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

// AttemptRepository is the Postgres attempt log
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

const insertAttemptQuery = `
	INSERT INTO access_attempts
		(client_key, username, ip_address, user_agent, http_accept, path_info, payload, outcome, attempt_time, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id
`

// countFailuresQuery counts failures in the trailing window; a NULL bound means all time
const countFailuresQuery = `
	SELECT COUNT(*), MIN(attempt_time), MAX(attempt_time) FROM access_attempts
	WHERE client_key = $1 AND outcome = 'failure'
	  AND ($2::timestamptz IS NULL OR attempt_time > $2)
`

// liftFailureQuery selects the failure at a given offset, newest first
const liftFailureQuery = `
	SELECT attempt_time FROM access_attempts
	WHERE client_key = $1 AND outcome = 'failure'
	  AND ($2::timestamptz IS NULL OR attempt_time > $2)
	ORDER BY attempt_time DESC
	OFFSET $3 LIMIT 1
`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAttempt(ctx context.Context, q querier, attempt *models.AccessAttempt) error {
	var id int64
	err := q.QueryRow(ctx, insertAttemptQuery,
		attempt.ClientKey,
		attempt.Username,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.HTTPAccept,
		attempt.PathInfo,
		attempt.Payload,
		string(attempt.Outcome),
		attempt.AttemptTime,
		nullableTime(attempt.ExpiresAt),
	).Scan(&id)
	if err != nil {
		return err
	}
	attempt.ID = fmt.Sprint(id)
	return nil
}

func countFailures(ctx context.Context, q querier, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
	var (
		count       int
		first, last *time.Time
	)
	bound := windowBound(policy, now)
	err := q.QueryRow(ctx, countFailuresQuery, key, bound).Scan(&count, &first, &last)
	if err != nil {
		return models.FailureCounter{}, err
	}

	var lift *time.Time
	if offset, ok := liftOffset(count, policy); ok {
		var at time.Time
		if err := q.QueryRow(ctx, liftFailureQuery, key, bound, offset).Scan(&at); err != nil {
			return models.FailureCounter{}, err
		}
		lift = &at
	}
	return logCounter(count, first, last, lift, policy), nil
}

// Append records an attempt of either outcome
func (r *AttemptRepository) Append(ctx context.Context, attempt *models.AccessAttempt) error {
	return database.MapPostgresError(insertAttempt(ctx, r.db.Pool, attempt))
}

// RecordFailure appends a failure and counts the key's window while holding
// a transaction-scoped advisory lock on the key, so concurrent writers for the
// same key are serialized across every process sharing the database.
func (r *AttemptRepository) RecordFailure(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error) {
	var counter models.FailureCounter

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, attempt.ClientKey); err != nil {
			return err
		}
		if err := insertAttempt(ctx, tx, attempt); err != nil {
			return err
		}

		var err error
		counter, err = countFailures(ctx, tx, attempt.ClientKey, policy, attempt.AttemptTime)
		return err
	})
	if err != nil {
		return models.FailureCounter{}, database.MapPostgresError(err)
	}

	return counter, nil
}

// CountFailures returns the failures for key in the active window
func (r *AttemptRepository) CountFailures(ctx context.Context, key string, policy models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
	counter, err := countFailures(ctx, r.db.Pool, key, policy, now)
	if err != nil {
		return models.FailureCounter{}, database.MapPostgresError(err)
	}
	return counter, nil
}

// Clear removes every attempt recorded for key
func (r *AttemptRepository) Clear(ctx context.Context, key string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM access_attempts WHERE client_key = $1`, key)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ClearMatching removes the attempts matching filter; an empty filter removes all
func (r *AttemptRepository) ClearMatching(ctx context.Context, filter models.ResetFilter) (int64, error) {
	query := `
		DELETE FROM access_attempts
		WHERE ($1::text = '' OR ip_address = $1) AND ($2::text = '' OR username = $2)
	`

	tag, err := r.db.Pool.Exec(ctx, query, filter.IPAddress, filter.Username)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes attempts whose retention has passed
func (r *AttemptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM access_attempts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *AttemptRepository) Ping(ctx context.Context) error {
	if err := r.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	return nil
}
