package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"remote-job-supervisor/internal/secrets"
	"remote-job-supervisor/internal/session/domain"
)

type PostgresRepository struct {
	db     *sql.DB
	cipher *secrets.Cipher // nil means job parameters are stored as plaintext
}

// NewPostgresRepository returns a session repository that uses the given db for
// persistence. When cipher is non-nil, job parameters are encrypted at rest.
func NewPostgresRepository(db *sql.DB, cipher *secrets.Cipher) *PostgresRepository {
	return &PostgresRepository{db: db, cipher: cipher}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, resource_id, status, job_params, job_params_salt, start_time, end_time, created_at
		FROM sessions WHERE id = $1`, id)
	s, err := r.scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	params, salt, err := r.sealParams(s.JobParameters)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, resource_id, status, job_params, job_params_salt, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.ResourceID, string(s.Status), params, salt,
		s.StartTime, timeToNullTime(s.EndTime), s.CreatedAt)
	return err
}

// UpdateStatus sets the session's status and, when endTime is non-nil, its end time.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, endTime *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, end_time = COALESCE($2, end_time)
		WHERE id = $3`,
		string(status), timeToNullTime(endTime), id)
	return err
}

// FindActive returns sessions with status setup or running, oldest first so
// rehydration resumes supervision in creation order. userID "" matches all users.
func (r *PostgresRepository) FindActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT id, user_id, resource_id, status, job_params, job_params_salt, start_time, end_time, created_at
		FROM sessions WHERE status IN ($1, $2)`
	args := []any{string(domain.StatusSetup), string(domain.StatusRunning)}
	if userID != "" {
		query += ` AND user_id = $3`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`
	return r.querySessions(ctx, query, args...)
}

// History returns the most recent sessions for userID, newest first.
func (r *PostgresRepository) History(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	return r.querySessions(ctx, `
		SELECT id, user_id, resource_id, status, job_params, job_params_salt, start_time, end_time, created_at
		FROM sessions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

func (r *PostgresRepository) querySessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var status string
	var params, salt []byte
	var endTime sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &s.ResourceID, &status, &params, &salt,
		&s.StartTime, &endTime, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	s.EndTime = nullTimeToPtr(endTime)
	plain, err := r.openParams(params, salt)
	if err != nil {
		return nil, err
	}
	s.JobParameters = plain
	return &s, nil
}

func (r *PostgresRepository) sealParams(params string) (ciphertext, salt []byte, err error) {
	if params == "" {
		return nil, nil, nil
	}
	if r.cipher == nil {
		return []byte(params), nil, nil
	}
	return r.cipher.Encrypt([]byte(params))
}

func (r *PostgresRepository) openParams(ciphertext, salt []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	if r.cipher == nil || len(salt) == 0 {
		return string(ciphertext), nil
	}
	plain, err := r.cipher.Decrypt(ciphertext, salt)
	if err != nil {
		return "", err
	}
	return string(plain), nil
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
