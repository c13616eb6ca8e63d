package repository

import (
	"context"

	"remote-job-supervisor/internal/ratelimit/domain"
)

// Repository defines persistence for rate limit counters.
type Repository interface {
	// Get returns the counter for (userID, day), or nil if no actions were counted yet.
	Get(ctx context.Context, userID, day string) (*domain.Counter, error)
	// Increment atomically adds one to the counter, creating it at 1 when absent.
	Increment(ctx context.Context, userID, day string) error
	// DeleteBefore removes counters for days earlier than day (retention sweep).
	DeleteBefore(ctx context.Context, day string) (int64, error)
}
