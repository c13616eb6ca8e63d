// Package audit records administrative actions for later review.
package audit

import (
	"context"
	"log"
	"time"

	"remote-job-supervisor/internal/audit/domain"
	auditrepo "remote-job-supervisor/internal/audit/repository"
)

// AuditLogger writes a single audit event with explicit action/target.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, actorID, action, targetID, detail string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	nowF func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. repo may be nil;
// then entries are dropped silently.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, nowF: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not
// returned.
func (l *Logger) LogEvent(ctx context.Context, actorID, action, targetID, detail string) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Detail:    detail,
		CreatedAt: l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, targetID, err)
	}
}
