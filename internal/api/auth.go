package api

import (
	"net/http"
	"strings"
)

type principal struct {
	userID string
	admin  bool
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// requireUser authenticates the request's bearer token. On failure it writes a
// 401 and returns ok=false. Privileged users are admins regardless of the
// token's admin claim.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return principal{}, false
	}
	userID, admin, err := s.tokens.ValidateAccess(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return principal{}, false
	}
	if !admin && s.authz.IsPrivileged(userID) {
		admin = true
	}
	return principal{userID: userID, admin: admin}, true
}

// requireAdmin authenticates and additionally demands the admin claim.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (principal, bool) {
	p, ok := s.requireUser(w, r)
	if !ok {
		return principal{}, false
	}
	if !p.admin {
		writeError(w, http.StatusForbidden, "admin access required")
		return principal{}, false
	}
	return p, true
}
