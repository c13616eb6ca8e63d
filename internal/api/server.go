// Package api exposes the supervisor's HTTP control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	authzservice "remote-job-supervisor/internal/authz/service"
	"remote-job-supervisor/internal/audit"
	"remote-job-supervisor/internal/events"
	eventdomain "remote-job-supervisor/internal/events/domain"
	"remote-job-supervisor/internal/executor"
	"remote-job-supervisor/internal/notify"
	ratelimitservice "remote-job-supervisor/internal/ratelimit/service"
	"remote-job-supervisor/internal/security"
	sessionservice "remote-job-supervisor/internal/session/service"
	statsdomain "remote-job-supervisor/internal/stats/domain"
	"remote-job-supervisor/internal/supervisor"
)

// StatsReader is the slice of the stats repository the admin surface needs.
type StatsReader interface {
	Summary(ctx context.Context) (*statsdomain.Summary, error)
}

// Server wires the domain services behind the HTTP API.
type Server struct {
	authz    *authzservice.Service
	limiter  *ratelimitservice.Service
	sessions *sessionservice.Service
	sup      *supervisor.Supervisor
	stats    StatsReader
	audit    audit.AuditLogger
	notifier notify.Notifier
	emitter  events.Emitter
	tokens   *security.TokenProvider

	// adminDestination receives broadcast and authorization-request notices.
	adminDestination string

	nowF func() time.Time
}

// Config collects the Server dependencies. stats, audit, notifier, and emitter
// may be nil; the corresponding surfaces degrade to no-ops.
type Config struct {
	Authz            *authzservice.Service
	Limiter          *ratelimitservice.Service
	Sessions         *sessionservice.Service
	Supervisor       *supervisor.Supervisor
	Stats            StatsReader
	Audit            audit.AuditLogger
	Notifier         notify.Notifier
	Emitter          events.Emitter
	Tokens           *security.TokenProvider
	AdminDestination string
}

// NewServer returns an API server over the given services.
func NewServer(cfg Config) *Server {
	return &Server{
		authz:            cfg.Authz,
		limiter:          cfg.Limiter,
		sessions:         cfg.Sessions,
		sup:              cfg.Supervisor,
		stats:            cfg.Stats,
		audit:            cfg.Audit,
		notifier:         cfg.Notifier,
		emitter:          cfg.Emitter,
		tokens:           cfg.Tokens,
		adminDestination: cfg.AdminDestination,
		nowF:             func() time.Time { return time.Now().UTC() },
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/authorization/requests", s.handleAuthorizationRequest)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/start", s.handleStartSession)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStopSession)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/history", s.handleHistory)

	mux.HandleFunc("POST /v1/admin/grants", s.handleGrant)
	mux.HandleFunc("DELETE /v1/admin/grants/{user_id}", s.handleRevoke)
	mux.HandleFunc("POST /v1/admin/rejections", s.handleReject)
	mux.HandleFunc("GET /v1/admin/sessions", s.handleAdminSessions)
	mux.HandleFunc("POST /v1/admin/broadcast", s.handleBroadcast)
	mux.HandleFunc("GET /v1/admin/stats", s.handleAdminStats)
	mux.HandleFunc("POST /v1/admin/tokens", s.handleIssueToken)

	return withLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) emit(eventType eventdomain.Type, sessionID, userID, resourceID, detail string) {
	events.EmitAsync(s.emitter, &eventdomain.Event{
		Type:       eventType,
		SessionID:  sessionID,
		UserID:     userID,
		ResourceID: resourceID,
		Detail:     detail,
		CreatedAt:  s.nowF(),
	})
}

// writeServiceError maps domain sentinels onto HTTP status codes: validation
// 400, missing 404, state conflicts 409, executor transport 502, rest 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authzservice.ErrInvalidDuration),
		errors.Is(err, sessionservice.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authzservice.ErrNotFound),
		errors.Is(err, sessionservice.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, authzservice.ErrAlreadyAuthorized),
		errors.Is(err, authzservice.ErrAlreadyPending),
		errors.Is(err, authzservice.ErrNotPending),
		errors.Is(err, sessionservice.ErrInvalidTransition),
		errors.Is(err, supervisor.ErrSessionTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrTransport):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
