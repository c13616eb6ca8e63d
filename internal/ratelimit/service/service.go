// Package service implements the per-user daily action quota.
package service

import (
	"context"
	"time"

	"remote-job-supervisor/internal/ratelimit/domain"
)

// Authorizer is the slice of the authorization service the limiter needs for
// exemptions.
type Authorizer interface {
	Check(ctx context.Context, userID string) (bool, error)
	IsPrivileged(userID string) bool
}

// Repo is the minimal rate limit repository needed by the service.
type Repo interface {
	Get(ctx context.Context, userID, day string) (*domain.Counter, error)
	Increment(ctx context.Context, userID, day string) error
}

// Service meters non-exempt users against a daily action quota. The quota day
// boundary is computed in the reference timezone so "today" matches the
// user-facing day regardless of server locale.
type Service struct {
	repo  Repo
	authz Authorizer
	limit int
	loc   *time.Location
	nowF  func() time.Time
}

// NewService returns a limiter with the given daily limit in the given reference
// timezone.
func NewService(repo Repo, authz Authorizer, limit int, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:  repo,
		authz: authz,
		limit: limit,
		loc:   loc,
		nowF:  time.Now,
	}
}

// Allow reports whether userID may perform one more action today. Privileged
// users, private contexts, and currently authorized users are exempt. Allow does
// not consume quota; callers must call Increment after the action succeeds, so a
// failed action costs nothing.
func (s *Service) Allow(ctx context.Context, userID string, isPrivateContext bool) (bool, error) {
	exempt, err := s.exempt(ctx, userID, isPrivateContext)
	if err != nil {
		return false, err
	}
	if exempt {
		return true, nil
	}
	c, err := s.repo.Get(ctx, userID, s.today())
	if err != nil {
		return false, err
	}
	if c == nil {
		return true, nil
	}
	return c.ActionCount < s.limit, nil
}

// Increment counts one completed action against today's quota.
func (s *Service) Increment(ctx context.Context, userID string) error {
	return s.repo.Increment(ctx, userID, s.today())
}

// Remaining returns how many actions userID has left today; -1 means unlimited
// (exempt user).
func (s *Service) Remaining(ctx context.Context, userID string, isPrivateContext bool) (int, error) {
	exempt, err := s.exempt(ctx, userID, isPrivateContext)
	if err != nil {
		return 0, err
	}
	if exempt {
		return -1, nil
	}
	c, err := s.repo.Get(ctx, userID, s.today())
	if err != nil {
		return 0, err
	}
	used := 0
	if c != nil {
		used = c.ActionCount
	}
	left := s.limit - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (s *Service) exempt(ctx context.Context, userID string, isPrivateContext bool) (bool, error) {
	if isPrivateContext || s.authz.IsPrivileged(userID) {
		return true, nil
	}
	return s.authz.Check(ctx, userID)
}

func (s *Service) today() string {
	return s.nowF().In(s.loc).Format("2006-01-02")
}
