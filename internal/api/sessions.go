package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	eventdomain "remote-job-supervisor/internal/events/domain"
	"remote-job-supervisor/internal/notify"
	sessiondomain "remote-job-supervisor/internal/session/domain"
)

type sessionResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ResourceID string     `json:"resource_id"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toSessionResponse(s *sessiondomain.Session) sessionResponse {
	return sessionResponse{
		ID:         s.ID,
		UserID:     s.UserID,
		ResourceID: s.ResourceID,
		Status:     string(s.Status),
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		CreatedAt:  s.CreatedAt,
	}
}

// allowAction enforces the daily quota for non-admin callers. On denial it
// writes a 429 and returns false. Quota is consumed separately by countAction
// after the action succeeds.
func (s *Server) allowAction(w http.ResponseWriter, r *http.Request, p principal) bool {
	ok, err := s.limiter.Allow(r.Context(), p.userID, p.admin)
	if err != nil {
		writeServiceError(w, err)
		return false
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "daily action limit reached")
		return false
	}
	return true
}

func (s *Server) countAction(r *http.Request, p principal) {
	if p.admin {
		return
	}
	if err := s.limiter.Increment(r.Context(), p.userID); err != nil {
		log.Printf("api: count action for %s: %v", p.userID, err)
	}
}

func (s *Server) handleAuthorizationRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !s.allowAction(w, r, p) {
		return
	}
	if err := s.authz.Request(r.Context(), p.userID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.countAction(r, p)
	notify.SendAsync(s.notifier, s.adminDestination,
		fmt.Sprintf("authorization requested by %s", p.userID))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

type createSessionRequest struct {
	ResourceID    string `json:"resource_id"`
	JobParameters string `json:"job_parameters"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	authorized, err := s.authz.Check(r.Context(), p.userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !authorized {
		writeError(w, http.StatusForbidden, "user is not authorized")
		return
	}
	if !s.allowAction(w, r, p) {
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.sessions.Create(r.Context(), p.userID, req.ResourceID, req.JobParameters)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.countAction(r, p)
	s.emit(eventdomain.TypeSessionCreated, sess.ID, sess.UserID, sess.ResourceID, "")
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// ownSession loads the session and enforces that the caller owns it (admins may
// act on any session).
func (s *Server) ownSession(w http.ResponseWriter, r *http.Request, p principal, id string) (*sessiondomain.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if sess.UserID != p.userID && !p.admin {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownSession(w, r, p, r.PathValue("id"))
	if !ok {
		return
	}
	if !s.allowAction(w, r, p) {
		return
	}
	if err := s.sup.Start(r.Context(), sess.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.countAction(r, p)
	writeJSON(w, http.StatusOK, map[string]string{"id": sess.ID, "status": string(sessiondomain.StatusRunning)})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownSession(w, r, p, r.PathValue("id"))
	if !ok {
		return
	}
	if err := s.sup.Stop(r.Context(), sess.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": sess.ID, "status": string(sessiondomain.StatusStopped)})
}

type statusResponse struct {
	UserID           string            `json:"user_id"`
	Authorization    string            `json:"authorization"`
	ExpireTime       *time.Time        `json:"expire_time,omitempty"`
	RemainingActions int               `json:"remaining_actions"`
	ActiveSessions   []sessionResponse `json:"active_sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	rec, err := s.authz.Status(r.Context(), p.userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := statusResponse{UserID: p.userID, Authorization: "unauthorized"}
	if s.authz.IsPrivileged(p.userID) {
		resp.Authorization = "privileged"
	} else if rec != nil {
		resp.Authorization = string(rec.Status)
		resp.ExpireTime = rec.ExpireTime
	}
	remaining, err := s.limiter.Remaining(r.Context(), p.userID, p.admin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp.RemainingActions = remaining
	active, err := s.sessions.FindActive(r.Context(), p.userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp.ActiveSessions = make([]sessionResponse, 0, len(active))
	for _, sess := range active {
		resp.ActiveSessions = append(resp.ActiveSessions, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}
	list, err := s.sessions.History(r.Context(), p.userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, sess := range list {
		out = append(out, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}
