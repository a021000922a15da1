package model

import (
	"encoding/json"
	"time"
)

// Depot is the single start and end point of every route.
type Depot struct {
	Address   string    `json:"address"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delivery is a stop with a demand in capacity units.
type Delivery struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Demand    int       `json:"demand"`
	CreatedAt time.Time `json:"createdAt"`
}

// VehicleRoute is the persisted result for one vehicle. Nodes index the
// plan's node list (0 is the depot); Addresses follow the same order.
type VehicleRoute struct {
	PlanID    string    `json:"planId"`
	VehicleID string    `json:"vehicleId"`
	Nodes     []int     `json:"nodes"`
	Addresses []string  `json:"addresses"`
	Distance  int64     `json:"distance"`
	Load      int       `json:"load"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlanMetrics records the search statistics of one optimization run.
type PlanMetrics struct {
	PlanID           string          `json:"planId"`
	Strategy         string          `json:"strategy"`
	Locations        int             `json:"locations"`
	Vehicles         int             `json:"vehicles"`
	Iterations       int             `json:"iterations"`
	Improvements     int             `json:"improvements"`
	AcceptedWorse    int             `json:"acceptedWorse"`
	InitialObjective float64         `json:"initialObjective"`
	BestObjective    float64         `json:"bestObjective"`
	TotalDistance    int64           `json:"totalDistance"`
	MaxRouteDistance int64           `json:"maxRouteDistance"`
	ElapsedMs        int64           `json:"elapsedMs"`
	Converged        bool            `json:"converged"`
	DeadlineHit      bool            `json:"deadlineHit"`
	Operators        json.RawMessage `json:"operators,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// DepotIn is the body of PUT /v1/depot. Without coordinates the address is
// resolved.
type DepotIn struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// DeliveryIn is the body of POST /v1/deliveries. Demand defaults to 1.
type DeliveryIn struct {
	Address string   `json:"address"`
	Demand  *int     `json:"demand,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// ImportResult reports a bulk delivery import.
type ImportResult struct {
	Source  string     `json:"source"`
	Created int        `json:"created"`
	Items   []Delivery `json:"items"`
}

// OptimizeRequest is the body of POST /v1/optimize. Zero values take the
// configured defaults. Capacities wins over NumVehicles.
type OptimizeRequest struct {
	NumVehicles     int      `json:"numVehicles,omitempty"`
	Capacities      []int    `json:"capacities,omitempty"`
	TimeLimitMs     int      `json:"timeLimitMs,omitempty"`
	DistanceBound   *int64   `json:"distanceBound,omitempty"`
	SpanCoefficient *float64 `json:"spanCoefficient,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`
	BatchSize       int      `json:"batchSize,omitempty"`
	Seed            int64    `json:"seed,omitempty"`
	MaxIterations   int      `json:"maxIterations,omitempty"`
}

// OptimizeResponse is returned by POST /v1/optimize.
type OptimizeResponse struct {
	PlanID           string         `json:"planId"`
	Strategy         string         `json:"strategy"`
	Routes           []VehicleRoute `json:"routes"`
	TotalDistance    int64          `json:"totalDistance"`
	MaxRouteDistance int64          `json:"maxRouteDistance"`
	Objective        float64        `json:"objective"`
	Metrics          PlanMetrics    `json:"metrics"`
}

// OptimizerConfig is the effective set of optimizer defaults.
type OptimizerConfig struct {
	Strategies      []string `json:"strategies"`
	Strategy        string   `json:"strategy"`
	Capacities      []int    `json:"capacities"`
	TimeLimitMs     int64    `json:"timeLimitMs"`
	DistanceBound   int64    `json:"distanceBound"`
	SpanCoefficient float64  `json:"spanCoefficient"`
	BatchSize       int      `json:"batchSize"`
	Concurrency     int      `json:"concurrency"`
	Provider        string   `json:"provider"`
}

// Event is published on the event broker and to webhook targets.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	PlanID string    `json:"planId,omitempty"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

const (
	EventRoutesOptimized = "routes.optimized"
	EventOptimizeFailed  = "optimize.failed"
	EventDepotChanged    = "depot.changed"
)
