package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	depot      *model.Depot
	deliveries []model.Delivery     // insertion order
	routes     []model.VehicleRoute // vehicle order of the last plan
	plans      []model.PlanMetrics  // oldest first
	hooks      map[string]*WebhookDelivery
	hookOrder  []string
	dedup      map[string]string // eventType|url|key -> delivery id

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		hooks: map[string]*WebhookDelivery{},
		dedup: map[string]string{},
		now:   time.Now,
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) GetDepot(ctx context.Context) (model.Depot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depot == nil {
		return model.Depot{}, ErrNoDepot
	}
	return *m.depot, nil
}

func (m *Memory) SetDepot(ctx context.Context, d model.Depot) (model.Depot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.UpdatedAt = m.now().UTC()
	m.depot = &d
	m.routes = nil
	return d, nil
}

func (m *Memory) AddDelivery(ctx context.Context, d model.Delivery) (model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = m.now().UTC()
	m.deliveries = append(m.deliveries, d)
	return d, nil
}

func (m *Memory) ListDeliveries(ctx context.Context) ([]model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deliveries), nil
}

// DeleteDelivery removes a delivery and the routes that may visit it.
func (m *Memory) DeleteDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.deliveries, func(d model.Delivery) bool { return d.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	m.deliveries = slices.Delete(m.deliveries, i, i+1)
	m.routes = nil
	return nil
}

func (m *Memory) ReplaceRoutes(ctx context.Context, planID string, routes []model.VehicleRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	out := make([]model.VehicleRoute, len(routes))
	for i, r := range routes {
		r.PlanID = planID
		r.Nodes = slices.Clone(r.Nodes)
		r.Addresses = slices.Clone(r.Addresses)
		r.CreatedAt = now
		out[i] = r
	}
	m.routes = out
	return nil
}

func (m *Memory) ListRoutes(ctx context.Context) ([]model.VehicleRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.routes), nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, pm model.PlanMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = m.now().UTC()
	}
	m.plans = append(m.plans, pm)
	return nil
}

// ListPlanMetrics returns the newest runs first, optionally filtered by
// strategy.
func (m *Memory) ListPlanMetrics(ctx context.Context, strategy string, limit int) ([]model.PlanMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.PlanMetrics{}
	for i := len(m.plans) - 1; i >= 0 && len(out) < limit; i-- {
		if strategy == "" || m.plans[i].Strategy == strategy {
			out = append(out, m.plans[i])
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	now := m.now().UTC()
	d := &WebhookDelivery{
		ID:            uuid.NewString(),
		EventType:     eventType,
		URL:           url,
		Secret:        secret,
		Payload:       slices.Clone(payload),
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	m.hooks[d.ID] = d
	m.hookOrder = append(m.hookOrder, d.ID)
	m.dedup[key] = d.ID
	return d.ID, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, id := range m.hookOrder {
		d := m.hooks[id]
		if (d.Status == StatusPending || d.Status == StatusRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	slices.SortStableFunc(out, func(a, b WebhookDelivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt time.Time, lastError string, responseCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.hooks[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LastError = lastError
	if success {
		d.Status = StatusDelivered
		return nil
	}
	d.Status = StatusRetry
	d.NextAttemptAt = nextAttemptAt
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.hooks[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = StatusFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []WebhookDelivery{}
	for i := len(m.hookOrder) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.hooks[m.hookOrder[i]]
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}
