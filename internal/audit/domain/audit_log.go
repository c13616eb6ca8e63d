package domain

import "time"

// AuditLog records one administrative action.
type AuditLog struct {
	ID        int64
	ActorID   string
	Action    string
	TargetID  string
	Detail    string
	CreatedAt time.Time
}
