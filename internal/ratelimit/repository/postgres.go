package repository

import (
	"context"
	"database/sql"
	"errors"

	"remote-job-supervisor/internal/ratelimit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a rate limit repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the counter for (userID, day), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, userID, day string) (*domain.Counter, error) {
	var c domain.Counter
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, day, action_count
		FROM rate_limit_counters WHERE user_id = $1 AND day = $2`,
		userID, day).Scan(&c.UserID, &c.Day, &c.ActionCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Increment atomically adds one to the (userID, day) counter, creating it at 1
// when absent. Counters are never decremented.
func (r *PostgresRepository) Increment(ctx context.Context, userID, day string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_limit_counters (user_id, day, action_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day) DO UPDATE
		SET action_count = rate_limit_counters.action_count + 1`,
		userID, day)
	return err
}

// DeleteBefore removes counters for days earlier than day. Days sort
// lexicographically because they are stored as YYYY-MM-DD.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, day string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE day < $1`, day)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
