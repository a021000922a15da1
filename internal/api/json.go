package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/integrations"
	"fleetroute/internal/opt"
	"fleetroute/internal/planner"
	"fleetroute/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("body must contain a single JSON object")
	}
	return nil
}

// statusFor maps the error taxonomy to a status code, or 0 when err is
// not part of it.
func statusFor(err error) int {
	var (
		cfg *opt.ConfigurationError
		nse *opt.NoSolutionError
		dqe *distmatrix.DistanceQueryError
		rse *integrations.ResolveError
		in  *planner.InputError
	)
	switch {
	case errors.As(err, &in):
		return http.StatusBadRequest
	case errors.As(err, &cfg), errors.As(err, &rse):
		return http.StatusUnprocessableEntity
	case errors.As(err, &nse):
		return http.StatusConflict
	case errors.As(err, &dqe):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNoDepot):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return 0
}

// writeError writes a problem with the mapped status, defaulting to 500.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := statusFor(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
