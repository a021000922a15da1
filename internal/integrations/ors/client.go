// Package ors is an OpenRouteService client implementing the geocoding and
// distance-matrix contracts.
package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"fleetroute/internal/geo"
	"fleetroute/internal/integrations"
)

const (
	DefaultBaseURL = "https://api.openrouteservice.org"
	DefaultProfile = "driving-car"
)

// Config configures a Client. Zero values select defaults.
type Config struct {
	APIKey      string
	BaseURL     string
	Profile     string
	Country     string  // optional boundary.country filter for geocoding
	RatePerSec  float64 // client-side request rate; <= 0 disables limiting
	Burst       int
	MaxAttempts int
	Timeout     time.Duration
}

// Client talks to /v2/matrix/{profile} and /geocode/search. Transient
// failures (network errors, 429 and 5xx) are retried with exponential
// backoff. The client is safe for concurrent use.
type Client struct {
	http        *http.Client
	apiKey      string
	baseURL     string
	profile     string
	country     string
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	log         logr.Logger
}

// New returns a Client for cfg.
func New(cfg Config, log logr.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ors: api key is empty")
	}
	c := &Client{
		http:        &http.Client{Timeout: 10 * time.Second},
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		profile:     cfg.Profile,
		country:     cfg.Country,
		maxAttempts: cfg.MaxAttempts,
		backoff:     200 * time.Millisecond,
		log:         log.WithName("ors"),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.profile == "" {
		c.profile = DefaultProfile
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 4
	}
	if cfg.Timeout > 0 {
		c.http.Timeout = cfg.Timeout
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c, nil
}

func (c *Client) Name() string { return "ors" }

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Sources      []int       `json:"sources"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
	Units        string      `json:"units"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
}

// BatchCost returns road distances in meters, rounded to the nearest
// meter.
func (c *Client) BatchCost(ctx context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
	if len(origins) == 0 || len(destinations) == 0 {
		return [][]int64{}, nil
	}
	body := matrixRequest{
		Locations:    make([][]float64, 0, len(origins)+len(destinations)),
		Sources:      make([]int, len(origins)),
		Destinations: make([]int, len(destinations)),
		Metrics:      []string{"distance"},
		Units:        "m",
	}
	for i, o := range origins {
		body.Locations = append(body.Locations, o.LngLat())
		body.Sources[i] = i
	}
	for j, d := range destinations {
		body.Locations = append(body.Locations, d.LngLat())
		body.Destinations[j] = len(origins) + j
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal matrix request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/matrix/%s", c.baseURL, c.profile)
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return nil, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Distances) != len(origins) {
		return nil, fmt.Errorf("matrix returned %d rows for %d origins", len(mr.Distances), len(origins))
	}
	out := make([][]int64, len(origins))
	for i, row := range mr.Distances {
		if len(row) != len(destinations) {
			return nil, fmt.Errorf("matrix row %d has %d elements for %d destinations", i, len(row), len(destinations))
		}
		out[i] = make([]int64, len(row))
		for j, v := range row {
			if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
				return nil, fmt.Errorf("matrix returned no route from %s to %s", origins[i], destinations[j])
			}
			out[i][j] = int64(math.Round(*v))
		}
	}
	return out, nil
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Resolve geocodes one address. Failures are *integrations.ResolveError.
func (c *Client) Resolve(ctx context.Context, address string) (geo.Coordinate, error) {
	norm := integrations.NormalizeAddress(address)
	if norm == "" {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: errors.New("empty address")}
	}
	endpoint := c.baseURL + "/geocode/search"
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("text", norm)
		q.Set("size", "1")
		if c.country != "" {
			q.Set("boundary.country", c.country)
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: fmt.Errorf("decode geocode response: %w", err)}
	}
	if len(decoded.Features) == 0 {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: integrations.ErrNoMatch}
	}
	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: fmt.Errorf("invalid coordinate format %v", coords)}
	}
	return geo.Coordinate{Lat: coords[1], Lng: coords[0]}, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry waits on the rate limiter before every attempt and retries
// transient failures with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.maxAttempts {
			return nil, lastErr
		}
		c.log.V(1).Info("retrying request", "url", req.URL.Path, "attempt", attempt, "backoff", backoff.String(), "err", err.Error())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ integrations.Provider = (*Client)(nil)
