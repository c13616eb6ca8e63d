package repository

import (
	"context"
	"time"

	"remote-job-supervisor/internal/authz/domain"
)

// Repository defines persistence for authorization records.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Record, error)
	Upsert(ctx context.Context, r *domain.Record) error
	// Delete removes the record. Returns false when no record existed.
	Delete(ctx context.Context, userID string) (bool, error)
	// MarkExpired flips an authorized record to expired. No-op when the record is
	// not currently authorized.
	MarkExpired(ctx context.Context, userID string, at time.Time) error
	// ExpireDue flips every authorized record whose expiry has passed and returns
	// the affected records.
	ExpireDue(ctx context.Context, now time.Time) ([]*domain.Record, error)
}
