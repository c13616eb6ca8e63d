package domain

import "time"

// Type classifies a lifecycle event.
type Type string

const (
	TypeSessionCreated Type = "session_created"
	TypeSessionStarted Type = "session_started"
	TypeSessionStopped Type = "session_stopped"
	TypeSessionFailed  Type = "session_failed"
	TypeSessionRestart Type = "session_restart"
	TypeGrantIssued    Type = "grant_issued"
	TypeGrantRevoked   Type = "grant_revoked"
	TypeBroadcast      Type = "broadcast"
)

// Event is one session or grant lifecycle occurrence, published to Kafka and
// relayed to the notification channel by the worker.
type Event struct {
	Type       Type      `json:"type"`
	SessionID  string    `json:"sessionId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	ResourceID string    `json:"resourceId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
