package repository

import (
	"context"
	"time"

	"remote-job-supervisor/internal/stats/domain"
)

// Repository defines persistence for stats samples.
type Repository interface {
	// Insert appends a sample. Samples are never mutated.
	Insert(ctx context.Context, s *domain.Sample) error
	// ListBySession returns the most recent samples for a session, newest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Sample, error)
	// Summary aggregates all stored samples.
	Summary(ctx context.Context) (*domain.Summary, error)
	// DeleteOlderThan removes samples with a timestamp before cutoff (retention sweep).
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
