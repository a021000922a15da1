package api

import (
	"net/http"
	"time"

	"fleetroute/internal/auth"
	"fleetroute/internal/buildinfo"
)

// DebugJSON reports build info and the effective settings (admin only).
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, auth.RoleAdmin) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":     buildinfo.Info(),
		"time":      time.Now().UTC().Format(time.RFC3339),
		"optimizer": s.Planner.Config(),
		"config":    s.Settings,
	})
}
