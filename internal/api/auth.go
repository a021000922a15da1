package api

import (
	"net/http"
	"strings"

	"fleetroute/internal/auth"
)

// getPrincipal verifies the bearer token. Websocket clients that cannot set
// headers may pass access_token in the query string.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	tok := ""
	if authz := r.Header.Get("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		tok = strings.TrimSpace(authz[7:])
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		tok = q
	}
	if tok == "" && s.Auth.Mode != auth.ModeOff {
		return auth.Principal{}, auth.ErrMissingToken
	}
	return s.Auth.Verify(tok)
}

// require writes 401 or 403 and returns false unless the caller holds role.
func (s *Server) require(w http.ResponseWriter, r *http.Request, role string) bool {
	p, err := s.getPrincipal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="fleetroute"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return false
	}
	if !p.Can(role) {
		writeProblem(w, http.StatusForbidden, "Forbidden", role+" role required", r.URL.Path)
		return false
	}
	return true
}
