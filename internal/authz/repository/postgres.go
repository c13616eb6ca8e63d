package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"remote-job-supervisor/internal/authz/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an authorization repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserID returns the record for userID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, status, expire_time, requested_at, created_at, updated_at
		FROM authorization_records WHERE user_id = $1`, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Upsert inserts or replaces the record keyed by user_id.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO authorization_records (user_id, status, expire_time, requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status,
			expire_time = EXCLUDED.expire_time,
			requested_at = EXCLUDED.requested_at,
			updated_at = EXCLUDED.updated_at`,
		rec.UserID, string(rec.Status), timeToNullTime(rec.ExpireTime),
		timeToNullTime(rec.RequestedAt), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// Delete removes the record for userID. Returns false when nothing was deleted.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM authorization_records WHERE user_id = $1`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkExpired flips an authorized record to expired. No-op for any other status.
func (r *PostgresRepository) MarkExpired(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE authorization_records SET status = $1, updated_at = $2
		WHERE user_id = $3 AND status = $4`,
		string(domain.StatusExpired), at, userID, string(domain.StatusAuthorized))
	return err
}

// ExpireDue flips every authorized record with a past expiry and returns the
// affected records.
func (r *PostgresRepository) ExpireDue(ctx context.Context, now time.Time) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE authorization_records SET status = $1, updated_at = $2
		WHERE status = $3 AND expire_time IS NOT NULL AND expire_time <= $2
		RETURNING user_id, status, expire_time, requested_at, created_at, updated_at`,
		string(domain.StatusExpired), now, string(domain.StatusAuthorized))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var status string
	var expire, requested sql.NullTime
	if err := row.Scan(&rec.UserID, &status, &expire, &requested, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	rec.ExpireTime = nullTimeToPtr(expire)
	rec.RequestedAt = nullTimeToPtr(requested)
	return &rec, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
