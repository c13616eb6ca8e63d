// Package service implements authorization grants with lazy expiry.
package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"remote-job-supervisor/internal/authz/domain"
)

// Sentinel errors for the authorization service; the HTTP layer maps them to status codes.
var (
	ErrInvalidDuration   = errors.New("invalid duration: want <n>h, <n>d, <n>m, or permanent")
	ErrNotFound          = errors.New("authorization record not found")
	ErrAlreadyAuthorized = errors.New("user is already authorized")
	ErrAlreadyPending    = errors.New("authorization request is already pending")
	ErrNotPending        = errors.New("no pending authorization request")
)

var durationSpecRe = regexp.MustCompile(`^(\d+)([hdm])$`)

// Repo is the minimal authorization repository needed by the service.
type Repo interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Record, error)
	Upsert(ctx context.Context, r *domain.Record) error
	Delete(ctx context.Context, userID string) (bool, error)
	MarkExpired(ctx context.Context, userID string, at time.Time) error
	ExpireDue(ctx context.Context, now time.Time) ([]*domain.Record, error)
}

// Service grants, revokes, and checks user authorization. Expiry math runs in the
// configured reference timezone; timestamps are stored in UTC. A fixed allow-list
// of privileged user ids bypasses authorization entirely.
type Service struct {
	repo       Repo
	privileged map[string]struct{}
	loc        *time.Location
	nowF       func() time.Time
}

// NewService returns a Service using loc as the reference timezone.
func NewService(repo Repo, privilegedIDs []string, loc *time.Location) *Service {
	priv := make(map[string]struct{}, len(privilegedIDs))
	for _, id := range privilegedIDs {
		priv[id] = struct{}{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:       repo,
		privileged: priv,
		loc:        loc,
		nowF:       time.Now,
	}
}

// IsPrivileged reports whether userID is on the fixed allow-list.
func (s *Service) IsPrivileged(userID string) bool {
	_, ok := s.privileged[userID]
	return ok
}

// Grant computes the expiry from durationSpec relative to now in the reference
// timezone, stores it in UTC, and upserts the record as authorized.
// durationSpec is <n>h (hours), <n>d (days), <n>m (30-day months), or "permanent".
func (s *Service) Grant(ctx context.Context, userID, durationSpec string) (time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return time.Time{}, ErrNotFound
	}
	now := s.nowF().In(s.loc)
	expire, err := expiryFromSpec(now, durationSpec)
	if err != nil {
		return time.Time{}, err
	}
	expireUTC := expire.UTC()

	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	nowUTC := now.UTC()
	rec := &domain.Record{
		UserID:     userID,
		Status:     domain.StatusAuthorized,
		ExpireTime: &expireUTC,
		CreatedAt:  nowUTC,
		UpdatedAt:  nowUTC,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
		rec.RequestedAt = existing.RequestedAt
	}
	if err := rec.Validate(); err != nil {
		return time.Time{}, err
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return time.Time{}, err
	}
	return expireUTC, nil
}

// Revoke deletes the user's record. Returns ErrNotFound when there was nothing to
// revoke, so callers can treat repeat revokes as a no-op.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	deleted, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// Check reports whether userID is currently authorized. An authorized record whose
// expiry has passed is flipped to expired as a side effect (lazy expiry) and Check
// returns false. Privileged users are always authorized.
func (s *Service) Check(ctx context.Context, userID string) (bool, error) {
	if s.IsPrivileged(userID) {
		return true, nil
	}
	rec, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Status != domain.StatusAuthorized {
		return false, nil
	}
	now := s.nowF().UTC()
	if rec.ExpireTime != nil && rec.ExpireTime.After(now) {
		return true, nil
	}
	if err := s.repo.MarkExpired(ctx, userID, now); err != nil {
		return false, err
	}
	return false, nil
}

// Request records that userID asked for access (status=pending). Requesting again
// while pending returns ErrAlreadyPending; requesting while authorized returns
// ErrAlreadyAuthorized. A rejected or expired user may request again.
func (s *Service) Request(ctx context.Context, userID string) error {
	rec, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	now := s.nowF().UTC()
	if rec != nil {
		switch rec.Status {
		case domain.StatusAuthorized:
			if rec.ExpireTime != nil && rec.ExpireTime.After(now) {
				return ErrAlreadyAuthorized
			}
		case domain.StatusPending:
			return ErrAlreadyPending
		}
	}
	out := &domain.Record{
		UserID:      userID,
		Status:      domain.StatusPending,
		RequestedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec != nil {
		out.CreatedAt = rec.CreatedAt
	}
	return s.repo.Upsert(ctx, out)
}

// Reject turns a pending request into rejected. Any other state returns
// ErrNotPending and leaves the record unchanged.
func (s *Service) Reject(ctx context.Context, userID string) error {
	rec, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != domain.StatusPending {
		return ErrNotPending
	}
	now := s.nowF().UTC()
	rec.Status = domain.StatusRejected
	rec.UpdatedAt = now
	return s.repo.Upsert(ctx, rec)
}

// Status returns the user's record, or nil when none exists.
func (s *Service) Status(ctx context.Context, userID string) (*domain.Record, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// SweepExpired flips every past-due authorized record to expired and returns the
// affected records so the caller can notify the users. Run periodically; Check's
// lazy expiry covers users that are read in between sweeps.
func (s *Service) SweepExpired(ctx context.Context) ([]*domain.Record, error) {
	return s.repo.ExpireDue(ctx, s.nowF().UTC())
}

// expiryFromSpec resolves a duration spec against now. Months are fixed 30-day
// units; "permanent" is a far-future expiry of 100 years.
func expiryFromSpec(now time.Time, spec string) (time.Time, error) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "permanent" {
		return now.AddDate(100, 0, 0), nil
	}
	m := durationSpecRe.FindStringSubmatch(spec)
	if m == nil {
		return time.Time{}, ErrInvalidDuration
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return time.Time{}, ErrInvalidDuration
	}
	switch m[2] {
	case "h":
		return now.Add(time.Duration(n) * time.Hour), nil
	case "d":
		return now.Add(time.Duration(n) * 24 * time.Hour), nil
	case "m":
		return now.Add(time.Duration(n) * 30 * 24 * time.Hour), nil
	}
	return time.Time{}, ErrInvalidDuration
}
