package domain

import (
	"errors"
	"time"
)

// Status is the authorization state of a user.
type Status string

const (
	StatusUnauthorized Status = "unauthorized"
	StatusPending      Status = "pending"
	StatusAuthorized   Status = "authorized"
	StatusExpired      Status = "expired"
	StatusRejected     Status = "rejected"
)

// Record maps a user identity to an authorization status and expiry.
// ExpireTime is stored in UTC; it is required while Status is authorized.
type Record struct {
	UserID      string
	Status      Status
	ExpireTime  *time.Time // nil unless a grant is in effect (or was, for expired)
	RequestedAt *time.Time // set when the user asked for access
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the record invariants.
func (r *Record) Validate() error {
	if r.UserID == "" {
		return errors.New("authorization record: user_id is required")
	}
	switch r.Status {
	case StatusUnauthorized, StatusPending, StatusAuthorized, StatusExpired, StatusRejected:
	default:
		return errors.New("authorization record: unknown status")
	}
	if r.Status == StatusAuthorized && r.ExpireTime == nil {
		return errors.New("authorization record: authorized without expire_time")
	}
	return nil
}
