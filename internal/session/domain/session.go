package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a supervised job session.
type Status string

const (
	StatusSetup   Status = "setup"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status ends the session's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// ValidTransition reports whether from → to is one of the four permitted
// lifecycle transitions: setup→running, running→stopped, running→failed,
// setup→failed.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusSetup:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusStopped || to == StatusFailed
	}
	return false
}

// Session represents one lifecycle instance of a supervised remote job bound to
// one resource. The persisted record is the single source of truth; supervisors
// hold the id, never a private copy.
type Session struct {
	ID            string
	UserID        string
	ResourceID    string // opaque handle to the externally managed resource
	JobParameters string // opaque parameters re-used for restarts; encrypted at rest when configured
	Status        Status
	StartTime     time.Time
	EndTime       *time.Time // set on any terminal transition
	CreatedAt     time.Time
}

// Validate checks the session invariants. A session failing validation is not
// supervisable.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session: id is required")
	}
	if s.UserID == "" {
		return errors.New("session: user_id is required")
	}
	if s.ResourceID == "" {
		return errors.New("session: resource_id is required")
	}
	switch s.Status {
	case StatusSetup, StatusRunning, StatusStopped, StatusFailed:
	default:
		return errors.New("session: unknown status")
	}
	return nil
}
