package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizeDuration records end-to-end solve time by strategy and outcome
	OptimizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Route optimization duration in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}},
		[]string{"strategy", "outcome"},
	)
	// OracleBatchCalls counts distance-oracle batch requests by outcome
	OracleBatchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_batch_calls_total", Help: "Distance oracle batch calls by outcome."},
		[]string{"outcome"},
	)
	// MatrixCacheLookups counts matrix cache lookups by result (hit, miss, error)
	MatrixCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "matrix_cache_lookups_total", Help: "Distance matrix cache lookups by result."},
		[]string{"result"},
	)
	// SearchIterations counts improvement iterations by strategy
	SearchIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "search_iterations_total", Help: "Local search iterations by strategy."},
		[]string{"strategy"},
	)
	// SolutionObjective is the objective of the most recent solution per strategy
	SolutionObjective = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "solution_objective", Help: "Objective value of the last solution."},
		[]string{"strategy"},
	)
	// WebhookDeliveries counts webhook delivery attempts by event type and outcome
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and outcome."},
		[]string{"event", "outcome"},
	)
	// EventSubscribers is the number of connected event stream clients
	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "event_subscribers", Help: "Connected event stream subscribers."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(OracleBatchCalls)
		Registry.MustRegister(MatrixCacheLookups)
		Registry.MustRegister(SearchIterations)
		Registry.MustRegister(SolutionObjective)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(EventSubscribers)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
