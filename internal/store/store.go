package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"fleetroute/internal/model"
)

// Store is the persistence interface used by the planner and API server.
type Store interface {
	// Depot. Setting the depot replaces the previous one and clears stored
	// routes, which no longer describe the current network.
	GetDepot(ctx context.Context) (model.Depot, error)
	SetDepot(ctx context.Context, d model.Depot) (model.Depot, error)

	// Deliveries
	AddDelivery(ctx context.Context, d model.Delivery) (model.Delivery, error)
	ListDeliveries(ctx context.Context) ([]model.Delivery, error)
	DeleteDelivery(ctx context.Context, id string) error

	// Routes
	ReplaceRoutes(ctx context.Context, planID string, routes []model.VehicleRoute) error
	ListRoutes(ctx context.Context) ([]model.VehicleRoute, error)

	// Plan metrics
	SavePlanMetrics(ctx context.Context, m model.PlanMetrics) error
	ListPlanMetrics(ctx context.Context, strategy string, limit int) ([]model.PlanMetrics, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt time.Time, lastError string, responseCode int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrNoDepot  = errors.New("depot not set")
)

// Delivery statuses.
const (
	StatusPending   = "pending"
	StatusRetry     = "retry"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// WebhookDelivery is one queued outbound notification.
type WebhookDelivery struct {
	ID            string    `json:"id"`
	EventType     string    `json:"eventType"`
	URL           string    `json:"url"`
	Secret        string    `json:"-"`
	Payload       []byte    `json:"-"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
	ResponseCode  int       `json:"responseCode,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// computeDedupKey uses the event's "id" field when present and otherwise
// the first 8 bytes of the payload hash.
func computeDedupKey(payload []byte) string {
	var ev struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(payload, &ev) == nil && ev.ID != "" {
		return ev.ID
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

const defaultListLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
