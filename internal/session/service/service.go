// Package service implements the session registry state machine.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"remote-job-supervisor/internal/session/domain"
)

// Sentinel errors for the session registry; the HTTP layer maps them to status codes.
var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidInput      = errors.New("user_id and resource_id are required")
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// Repo is the minimal session repository needed by the registry.
type Repo interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	UpdateStatus(ctx context.Context, id string, status domain.Status, endTime *time.Time) error
	FindActive(ctx context.Context, userID string) ([]*domain.Session, error)
	History(ctx context.Context, userID string, limit int) ([]*domain.Session, error)
}

// Service owns session lifecycle bookkeeping. The store is the single source of
// truth; callers keep ids, not copies.
type Service struct {
	repo Repo
	nowF func() time.Time
}

// NewService returns a session registry over the given repository.
func NewService(repo Repo) *Service {
	return &Service{repo: repo, nowF: func() time.Time { return time.Now().UTC() }}
}

// Create registers a new session in setup state and persists it immediately.
func (s *Service) Create(ctx context.Context, userID, resourceID, jobParameters string) (*domain.Session, error) {
	userID = strings.TrimSpace(userID)
	resourceID = strings.TrimSpace(resourceID)
	if userID == "" || resourceID == "" {
		return nil, ErrInvalidInput
	}
	now := s.nowF()
	sess := &domain.Session{
		ID:            uuid.New().String(),
		UserID:        userID,
		ResourceID:    resourceID,
		JobParameters: jobParameters,
		Status:        domain.StatusSetup,
		StartTime:     now,
		CreatedAt:     now,
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session for id, or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Transition moves the session to newStatus. Only setup→running, running→stopped,
// running→failed, and setup→failed are permitted; anything else returns
// ErrInvalidTransition and leaves the stored status unchanged. Terminal
// transitions set the end time.
func (s *Service) Transition(ctx context.Context, id string, newStatus domain.Status) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.ValidTransition(sess.Status, newStatus) {
		return nil, ErrInvalidTransition
	}
	var endTime *time.Time
	if newStatus.Terminal() {
		now := s.nowF()
		endTime = &now
	}
	if err := s.repo.UpdateStatus(ctx, id, newStatus, endTime); err != nil {
		return nil, err
	}
	sess.Status = newStatus
	if endTime != nil {
		sess.EndTime = endTime
	}
	return sess, nil
}

// FindActive returns sessions in setup or running state. userID "" matches all
// users; the supervisor rehydrates its task set from this at startup.
func (s *Service) FindActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.repo.FindActive(ctx, userID)
}

// History returns the user's most recent sessions, newest first. limit <= 0
// falls back to the default; the cap keeps responses bounded.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.History(ctx, userID, limit)
}
