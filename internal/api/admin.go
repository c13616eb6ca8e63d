package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	eventdomain "remote-job-supervisor/internal/events/domain"
	"remote-job-supervisor/internal/notify"
)

type grantRequest struct {
	UserID   string `json:"user_id"`
	Duration string `json:"duration"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	expire, err := s.authz.Grant(r.Context(), req.UserID, req.Duration)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if s.audit != nil {
		s.audit.LogEvent(r.Context(), p.userID, "grant_issued", req.UserID, req.Duration)
	}
	s.emit(eventdomain.TypeGrantIssued, "", req.UserID, "", req.Duration)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     req.UserID,
		"expire_time": expire.Format(time.RFC3339),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("user_id")
	if err := s.authz.Revoke(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	if s.audit != nil {
		s.audit.LogEvent(r.Context(), p.userID, "grant_revoked", userID, "")
	}
	s.emit(eventdomain.TypeGrantRevoked, "", userID, "", "")
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "revoked"})
}

type rejectRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.authz.Reject(r.Context(), req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	if s.audit != nil {
		s.audit.LogEvent(r.Context(), p.userID, "request_rejected", req.UserID, "")
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID, "status": "rejected"})
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	active, err := s.sessions.FindActive(r.Context(), "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(active))
	for _, sess := range active {
		out = append(out, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	notify.SendAsync(s.notifier, s.adminDestination, req.Message)
	s.emit(eventdomain.TypeBroadcast, "", p.userID, "", req.Message)
	if s.audit != nil {
		s.audit.LogEvent(r.Context(), p.userID, "broadcast", "", req.Message)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "stats collection is disabled")
		return
	}
	summary, err := s.stats.Summary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":       summary.Sessions,
		"samples":        summary.Samples,
		"avg_rate":       summary.AvgRate,
		"total_accepted": summary.TotalAccepted,
		"total_rejected": summary.TotalRejected,
	})
}

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// handleIssueToken mints an access token for a user. Tokens are short-lived;
// clients re-request as needed.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	token, _, expiresAt, err := s.tokens.IssueAccess(req.UserID, req.Admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	if s.audit != nil {
		s.audit.LogEvent(r.Context(), p.userID, "token_issued", req.UserID, fmt.Sprintf("admin=%t", req.Admin))
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}
