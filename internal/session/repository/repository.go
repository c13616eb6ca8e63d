package repository

import (
	"context"
	"time"

	"remote-job-supervisor/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// UpdateStatus sets the session's status and, for terminal transitions, its end time.
	UpdateStatus(ctx context.Context, id string, status domain.Status, endTime *time.Time) error
	// FindActive returns sessions with status setup or running. userID "" matches all users.
	FindActive(ctx context.Context, userID string) ([]*domain.Session, error)
	// History returns the most recent sessions for userID, newest first.
	History(ctx context.Context, userID string, limit int) ([]*domain.Session, error)
}
