package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetroute/internal/auth"
	"fleetroute/internal/integrations/csvfile"
	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// DepotHandler handles GET and PUT/POST /v1/depot
func (s *Server) DepotHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.require(w, r, auth.RoleViewer) {
			return
		}
		d, err := s.Planner.Depot(r.Context())
		if err != nil {
			writeError(w, r, "Get depot failed", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodPut, http.MethodPost:
		if !s.require(w, r, auth.RoleDispatcher) {
			return
		}
		var in model.DepotIn
		if err := decodeJSON(w, r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		d, err := s.Planner.SetDepot(r.Context(), in)
		if err != nil {
			writeError(w, r, "Set depot failed", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DeliveriesHandler handles GET/POST /v1/deliveries
func (s *Server) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.require(w, r, auth.RoleViewer) {
			return
		}
		items, err := s.Planner.Deliveries(r.Context())
		if err != nil {
			writeError(w, r, "List deliveries failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !s.require(w, r, auth.RoleDispatcher) {
			return
		}
		var in model.DeliveryIn
		if err := decodeJSON(w, r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		d, err := s.Planner.AddDelivery(r.Context(), in)
		if err != nil {
			writeError(w, r, "Add delivery failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, d)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DeliveryByIDHandler handles DELETE /v1/deliveries/{id}
func (s *Server) DeliveryByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/deliveries/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleDispatcher) {
		return
	}
	if err := s.Planner.DeleteDelivery(r.Context(), id); err != nil {
		writeError(w, r, "Delete delivery failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportHandler handles POST /v1/deliveries/import with a CSV body.
func (s *Server) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleDispatcher) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	src := csvfile.FromReader(name, http.MaxBytesReader(w, r.Body, 8*maxBodyBytes))
	res, err := s.Planner.ImportDeliveries(r.Context(), src)
	if err != nil {
		// anything outside the taxonomy is a malformed upload
		status := statusFor(err)
		if status == 0 {
			status = http.StatusBadRequest
		}
		writeProblem(w, status, "Import failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleDispatcher) {
		return
	}
	var req model.OptimizeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	resp, err := s.Planner.Optimize(r.Context(), req)
	if err != nil {
		writeError(w, r, "Optimize failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// OptimizerConfigHandler returns the effective optimizer defaults.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleViewer) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"defaults": s.Planner.Config()})
}

// RoutesIndexHandler handles GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleViewer) {
		return
	}
	routes, err := s.Planner.Routes(r.Context())
	if err != nil {
		writeError(w, r, "List routes failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": routes})
}

// RouteByVehicleHandler handles GET /v1/routes/{vehicleId}
func (s *Server) RouteByVehicleHandler(w http.ResponseWriter, r *http.Request) {
	vid := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	if vid == "" || strings.Contains(vid, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleViewer) {
		return
	}
	routes, err := s.Planner.Routes(r.Context())
	if err != nil {
		writeError(w, r, "Get route failed", err)
		return
	}
	for _, rt := range routes {
		if rt.VehicleID == vid {
			writeJSON(w, http.StatusOK, rt)
			return
		}
	}
	writeProblem(w, http.StatusNotFound, "Route not found", "no stored route for vehicle "+vid, r.URL.Path)
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?strategy=&limit=
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleAdmin) {
		return
	}
	q := r.URL.Query()
	items, err := s.Planner.PlanMetrics(r.Context(), q.Get("strategy"), queryInt(q.Get("limit"), 20))
	if err != nil {
		writeError(w, r, "List plan metrics failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries?status=&limit=
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleAdmin) {
		return
	}
	q := r.URL.Query()
	items, err := s.Store.ListWebhookDeliveries(r.Context(), q.Get("status"), queryInt(q.Get("limit"), 100))
	if err != nil {
		writeError(w, r, "List deliveries failed", err)
		return
	}
	if items == nil {
		items = []store.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func queryInt(v string, def int) int {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return def
}
