package repository

import (
	"context"
	"database/sql"
	"time"

	"remote-job-supervisor/internal/stats/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a stats repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends a sample.
func (r *PostgresRepository) Insert(ctx context.Context, s *domain.Sample) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO stats_samples (session_id, ts, rate, accepted, rejected)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		s.SessionID, s.Timestamp, s.Rate, s.Accepted, s.Rejected).Scan(&s.ID)
}

// ListBySession returns the most recent samples for a session, newest first.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Sample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, ts, rate, accepted, rejected
		FROM stats_samples WHERE session_id = $1
		ORDER BY ts DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Sample
	for rows.Next() {
		var s domain.Sample
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Timestamp, &s.Rate, &s.Accepted, &s.Rejected); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Summary aggregates all stored samples.
func (r *PostgresRepository) Summary(ctx context.Context) (*domain.Summary, error) {
	var sum domain.Summary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_id), COUNT(*),
		       COALESCE(AVG(rate), 0), COALESCE(SUM(accepted), 0), COALESCE(SUM(rejected), 0)
		FROM stats_samples`).Scan(
		&sum.Sessions, &sum.Samples, &sum.AvgRate, &sum.TotalAccepted, &sum.TotalRejected)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// DeleteOlderThan removes samples with a timestamp before cutoff.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM stats_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
