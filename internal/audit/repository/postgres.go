package repository

import (
	"context"
	"database/sql"

	"remote-job-supervisor/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db
// for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log and fills in its generated ID.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	const query = `
		INSERT INTO audit_logs (actor_id, action, target_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	return r.db.QueryRowContext(ctx, query,
		a.ActorID, a.Action, a.TargetID, a.Detail, a.CreatedAt,
	).Scan(&a.ID)
}

// ListRecent returns the most recent audit logs, newest first.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int32) ([]*domain.AuditLog, error) {
	const query = `
		SELECT id, actor_id, action, target_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Action, &a.TargetID, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
