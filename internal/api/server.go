package api

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetroute/internal/auth"
	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/planner"
	"fleetroute/internal/store"
)

type Server struct {
	Planner     *planner.Service
	Store       store.Store
	Broker      EventBroker
	Auth        *auth.Verifier
	Log         logr.Logger
	AllowOrigin string
	// Settings is the redacted configuration shown on /debug/vars.
	Settings map[string]any
}

// NewServer wires the handlers to a planner. The broker is added to the
// planner's notifiers so optimization events reach stream clients.
func NewServer(p *planner.Service, broker EventBroker, verifier *auth.Verifier, log logr.Logger) *Server {
	if broker == nil {
		broker = NewBroker()
	}
	if verifier == nil {
		verifier = auth.NewVerifier(auth.ModeOff, "")
	}
	p.Notifiers = append(p.Notifiers, broker)
	return &Server{
		Planner: p,
		Store:   p.Store,
		Broker:  broker,
		Auth:    verifier,
		Log:     log.WithName("api"),
	}
}

// Handler returns the full HTTP surface with logging, metrics and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/depot", s.DepotHandler)
	mux.HandleFunc("/v1/deliveries", s.DeliveriesHandler)
	mux.HandleFunc("/v1/deliveries/import", s.ImportHandler)
	mux.HandleFunc("/v1/deliveries/", s.DeliveryByIDHandler)

	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)
	mux.HandleFunc("/v1/routes", s.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", s.RouteByVehicleHandler)

	mux.HandleFunc("/v1/events/ws", s.EventsWSHandler)
	mux.HandleFunc("/v1/events/stream", s.EventsStreamHandler)

	mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/vars", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return logging.Middleware(s.Log, withCORS(s.AllowOrigin, withMetrics(mux)))
}

// HTTPServer returns a server with the timeouts used in production.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
