package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
)

// withCORS allows the configured origins ("*" or a comma-separated list).
func withCORS(allow string, next http.Handler) http.Handler {
	if allow == "" {
		return next
	}
	origins := map[string]bool{}
	for _, o := range strings.Split(allow, ",") {
		origins[strings.TrimSpace(o)] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (origins["*"] || origins[origin]) {
			h := w.Header()
			if origins["*"] {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := logging.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		path := routeLabel(r.URL.Path)
		status := strconv.Itoa(rec.Status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses path parameters so metric cardinality stays bounded.
func routeLabel(path string) string {
	for _, prefix := range []string{"/v1/deliveries/", "/v1/routes/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" && rest != "import" {
			return prefix + "{id}"
		}
	}
	return path
}
