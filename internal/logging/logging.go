// Package logging builds the process logger: the logr API over the
// standard log package.
package logging

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// New returns a logger writing to stderr. verbosity enables V(n) output
// for n <= verbosity.
func New(verbosity int) logr.Logger {
	return NewWithWriter(os.Stderr, verbosity)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, verbosity int) logr.Logger {
	std := log.New(w, "", log.LstdFlags|log.LUTC)
	stdr.SetVerbosity(verbosity)
	return stdr.NewWithOptions(std, stdr.Options{LogCaller: stdr.None}).WithName("fleetroute")
}

// NewContext attaches l to ctx.
func NewContext(ctx context.Context, l logr.Logger) context.Context {
	return logr.NewContext(ctx, l)
}

// FromContext returns the logger in ctx, or a discarding logger.
func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

// StatusRecorder captures the response status for access logs and metrics.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush, Hijack and Unwrap keep streaming and websocket upgrades working
// through the recorder.
func (r *StatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.Status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware logs one line per request and stores the logger in the
// request context for handlers.
func Middleware(l logr.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(NewContext(r.Context(), l)))
		l.Info("http request", "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path,
			"status", rec.Status, "dur", time.Since(start).String())
	})
}
