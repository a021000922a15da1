package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetroute/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pgx-backed database/sql pool and verifies it.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range schemaStatements(schemaSQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

func schemaStatements(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (p *Postgres) GetDepot(ctx context.Context) (model.Depot, error) {
	var d model.Depot
	err := p.db.QueryRowContext(ctx, `SELECT address, lat, lng, updated_at FROM depot WHERE id=1`).
		Scan(&d.Address, &d.Lat, &d.Lng, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNoDepot
	}
	return d, err
}

func (p *Postgres) SetDepot(ctx context.Context, d model.Depot) (model.Depot, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer func() { _ = tx.Rollback() }()
	err = tx.QueryRowContext(ctx, `INSERT INTO depot (id, address, lat, lng, updated_at) VALUES (1,$1,$2,$3,now())
        ON CONFLICT (id) DO UPDATE SET address=$1, lat=$2, lng=$3, updated_at=now()
        RETURNING updated_at`, d.Address, d.Lat, d.Lng).Scan(&d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicle_routes`); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

func (p *Postgres) AddDelivery(ctx context.Context, d model.Delivery) (model.Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	err := p.db.QueryRowContext(ctx, `INSERT INTO deliveries (id, address, lat, lng, demand) VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		d.ID, d.Address, d.Lat, d.Lng, d.Demand).Scan(&d.CreatedAt)
	return d, err
}

func (p *Postgres) ListDeliveries(ctx context.Context) ([]model.Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, address, lat, lng, demand, created_at FROM deliveries ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Delivery{}
	for rows.Next() {
		var d model.Delivery
		if err := rows.Scan(&d.ID, &d.Address, &d.Lat, &d.Lng, &d.Demand, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteDelivery(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM deliveries WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicle_routes`); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ReplaceRoutes(ctx context.Context, planID string, routes []model.VehicleRoute) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicle_routes`); err != nil {
		return err
	}
	for i, r := range routes {
		nodes, err := json.Marshal(r.Nodes)
		if err != nil {
			return err
		}
		addrs, err := json.Marshal(r.Addresses)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO vehicle_routes (vehicle_id, seq, plan_id, nodes, addresses, distance, load, capacity)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, r.VehicleID, i, planID, nodes, addrs, r.Distance, r.Load, r.Capacity)
		if err != nil {
			return fmt.Errorf("insert route %s: %w", r.VehicleID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListRoutes(ctx context.Context) ([]model.VehicleRoute, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT plan_id::text, vehicle_id, nodes, addresses, distance, load, capacity, created_at FROM vehicle_routes ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.VehicleRoute{}
	for rows.Next() {
		var r model.VehicleRoute
		var nodes, addrs []byte
		if err := rows.Scan(&r.PlanID, &r.VehicleID, &nodes, &addrs, &r.Distance, &r.Load, &r.Capacity, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(nodes, &r.Nodes); err != nil {
			return nil, fmt.Errorf("decode nodes of vehicle %s: %w", r.VehicleID, err)
		}
		if err := json.Unmarshal(addrs, &r.Addresses); err != nil {
			return nil, fmt.Errorf("decode addresses of vehicle %s: %w", r.VehicleID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, m model.PlanMetrics) error {
	var ops any
	if len(m.Operators) > 0 {
		ops = []byte(m.Operators)
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO plan_metrics (plan_id, strategy, locations, vehicles, iterations, improvements, accepted_worse,
            initial_objective, best_objective, total_distance, max_route_distance, elapsed_ms, converged, deadline_hit, operators)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (plan_id) DO NOTHING`,
		m.PlanID, m.Strategy, m.Locations, m.Vehicles, m.Iterations, m.Improvements, m.AcceptedWorse,
		m.InitialObjective, m.BestObjective, m.TotalDistance, m.MaxRouteDistance, m.ElapsedMs, m.Converged, m.DeadlineHit, ops)
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, strategy string, limit int) ([]model.PlanMetrics, error) {
	q := `SELECT plan_id::text, strategy, locations, vehicles, iterations, improvements, accepted_worse, initial_objective, best_objective,
        total_distance, max_route_distance, elapsed_ms, converged, deadline_hit, operators, created_at FROM plan_metrics`
	args := []any{}
	if strategy != "" {
		q += ` WHERE strategy=$1`
		args = append(args, strategy)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, clampLimit(limit))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlanMetrics{}
	for rows.Next() {
		var m model.PlanMetrics
		var ops []byte
		if err := rows.Scan(&m.PlanID, &m.Strategy, &m.Locations, &m.Vehicles, &m.Iterations, &m.Improvements, &m.AcceptedWorse,
			&m.InitialObjective, &m.BestObjective, &m.TotalDistance, &m.MaxRouteDistance, &m.ElapsedMs, &m.Converged, &m.DeadlineHit,
			&ops, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(ops) > 0 {
			m.Operators = json.RawMessage(ops)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EnqueueWebhook returns the ID of the queued row. A duplicate event for the
// same url returns the existing row's ID.
func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	key := computeDedupKey(payload)
	var id string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,'pending',0,now(),$6)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING
        RETURNING id::text`, uuid.NewString(), eventType, url, nullIfEmpty(secret), payload, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = p.db.QueryRowContext(ctx, `SELECT id::text FROM webhook_deliveries
        WHERE event_type=$1 AND url=$2 AND dedup_key=$3`, eventType, url, key).Scan(&id)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return id, nil
}

const deliveryColumns = `id::text, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), created_at`

func scanDelivery(sc interface{ Scan(...any) error }) (WebhookDelivery, error) {
	var d WebhookDelivery
	err := sc.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.CreatedAt)
	return d, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+`
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt time.Time, lastError string, responseCode int) error {
	status := StatusRetry
	if success {
		status = StatusDelivered
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status=$2, attempts=attempts+1,
        next_attempt_at=CASE WHEN $2='retry' THEN $3 ELSE next_attempt_at END, last_error=$4, response_code=$5 WHERE id=$1`,
		id, status, nextAttemptAt, nullIfEmpty(lastError), responseCode)
	return affected(res, err)
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode)
	return affected(res, err)
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, clampLimit(limit))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
