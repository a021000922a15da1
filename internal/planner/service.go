// Package planner runs the depot, delivery and optimization workflow on top
// of the store, a geocoder and a distance oracle.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/geo"
	"fleetroute/internal/integrations"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/store"
)

// Defaults are applied to optimize requests that leave a field unset.
type Defaults struct {
	Capacities      []int
	TimeLimit       time.Duration
	DistanceBound   int64
	SpanCoefficient float64
	Strategy        string
	BatchSize       int
	Concurrency     int
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Emit(ctx context.Context, ev model.Event)
}

// InputError is a request that fails validation before any work is done.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string { return e.Field + ": " + e.Reason }

type Service struct {
	Store          store.Store
	Resolver       integrations.Resolver
	Oracle         distmatrix.Oracle
	Cache          distmatrix.Cache // optional
	CacheNamespace string           // separates matrices priced by different oracles
	ProviderName   string
	Defaults       Defaults
	Notifiers      []Notifier
	Log            logr.Logger

	// optimize runs one at a time so stored routes always come from a
	// single plan.
	mu    sync.Mutex
	newID func() string
	now   func() time.Time
}

func New(st store.Store, provider integrations.Provider, defaults Defaults, log logr.Logger) *Service {
	return &Service{
		Store:          st,
		Resolver:       provider,
		Oracle:         provider,
		ProviderName:   provider.Name(),
		CacheNamespace: provider.Name(),
		Defaults:       defaults,
		Log:            log.WithName("planner"),
	}
}

func (s *Service) id() string {
	if s.newID != nil {
		return s.newID()
	}
	return uuid.NewString()
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) emit(ctx context.Context, typ, planID string, data any) {
	ev := model.Event{ID: s.id(), Type: typ, PlanID: planID, Time: s.clock().UTC(), Data: data}
	for _, n := range s.Notifiers {
		n.Emit(ctx, ev)
	}
}

// Config reports the effective optimizer defaults.
func (s *Service) Config() model.OptimizerConfig {
	d := s.Defaults
	return model.OptimizerConfig{
		Strategies:      opt.Strategies(),
		Strategy:        d.Strategy,
		Capacities:      append([]int(nil), d.Capacities...),
		TimeLimitMs:     d.TimeLimit.Milliseconds(),
		DistanceBound:   d.DistanceBound,
		SpanCoefficient: d.SpanCoefficient,
		BatchSize:       d.BatchSize,
		Concurrency:     d.Concurrency,
		Provider:        s.ProviderName,
	}
}

// locate returns explicit coordinates when both are set and otherwise
// resolves the address.
func (s *Service) locate(ctx context.Context, address string, lat, lng *float64) (geo.Coordinate, error) {
	if (lat == nil) != (lng == nil) {
		return geo.Coordinate{}, &InputError{Field: "lat/lng", Reason: "both or neither must be set"}
	}
	if lat != nil {
		c := geo.Coordinate{Lat: *lat, Lng: *lng}
		if !c.Valid() {
			return c, &InputError{Field: "lat/lng", Reason: fmt.Sprintf("coordinate %s out of range", c)}
		}
		return c, nil
	}
	if s.Resolver == nil {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: errors.New("no geocoder configured")}
	}
	return s.Resolver.Resolve(ctx, address)
}

// SetDepot replaces the depot. Stored routes are cleared by the store.
func (s *Service) SetDepot(ctx context.Context, in model.DepotIn) (model.Depot, error) {
	addr := integrations.NormalizeAddress(in.Address)
	if addr == "" {
		return model.Depot{}, &InputError{Field: "address", Reason: "is required"}
	}
	c, err := s.locate(ctx, addr, in.Lat, in.Lng)
	if err != nil {
		return model.Depot{}, err
	}
	d, err := s.Store.SetDepot(ctx, model.Depot{Address: addr, Lat: c.Lat, Lng: c.Lng})
	if err != nil {
		return d, fmt.Errorf("set depot: %w", err)
	}
	s.Log.Info("depot set", "address", addr, "coord", c.String())
	s.emit(ctx, model.EventDepotChanged, "", d)
	return d, nil
}

func (s *Service) Depot(ctx context.Context) (model.Depot, error) {
	return s.Store.GetDepot(ctx)
}

// AddDelivery stores a delivery. Demand defaults to 1.
func (s *Service) AddDelivery(ctx context.Context, in model.DeliveryIn) (model.Delivery, error) {
	addr := integrations.NormalizeAddress(in.Address)
	if addr == "" {
		return model.Delivery{}, &InputError{Field: "address", Reason: "is required"}
	}
	demand := 1
	if in.Demand != nil {
		demand = *in.Demand
	}
	if demand < 0 {
		return model.Delivery{}, &InputError{Field: "demand", Reason: "must be >= 0"}
	}
	c, err := s.locate(ctx, addr, in.Lat, in.Lng)
	if err != nil {
		return model.Delivery{}, err
	}
	d, err := s.Store.AddDelivery(ctx, model.Delivery{Address: addr, Lat: c.Lat, Lng: c.Lng, Demand: demand})
	if err != nil {
		return d, fmt.Errorf("add delivery: %w", err)
	}
	return d, nil
}

func (s *Service) Deliveries(ctx context.Context) ([]model.Delivery, error) {
	return s.Store.ListDeliveries(ctx)
}

func (s *Service) DeleteDelivery(ctx context.Context, id string) error {
	return s.Store.DeleteDelivery(ctx, id)
}

// ImportDeliveries loads every record from src. All addresses are resolved
// before anything is stored, so a failed lookup imports nothing. A record
// marked as depot replaces the depot.
func (s *Service) ImportDeliveries(ctx context.Context, src integrations.DeliverySource) (model.ImportResult, error) {
	res := model.ImportResult{Source: src.Name(), Items: []model.Delivery{}}
	recs, err := src.FetchDeliveries(ctx)
	if err != nil {
		return res, err
	}
	coords := make([]geo.Coordinate, len(recs))
	depots := 0
	for i, r := range recs {
		if r.Depot {
			depots++
		}
		if r.Demand < 0 {
			return res, &InputError{Field: fmt.Sprintf("row %d demand", i+1), Reason: "must be >= 0"}
		}
		if r.Coordinate != nil {
			coords[i] = *r.Coordinate
			continue
		}
		if coords[i], err = s.locate(ctx, r.Address, nil, nil); err != nil {
			return res, err
		}
	}
	if depots > 1 {
		return res, &InputError{Field: "depot", Reason: fmt.Sprintf("%d rows are marked as depot", depots)}
	}
	for i, r := range recs {
		if r.Depot {
			lat, lng := coords[i].Lat, coords[i].Lng
			if _, err := s.SetDepot(ctx, model.DepotIn{Address: r.Address, Lat: &lat, Lng: &lng}); err != nil {
				return res, err
			}
			continue
		}
		d, err := s.Store.AddDelivery(ctx, model.Delivery{
			Address: integrations.NormalizeAddress(r.Address),
			Lat:     coords[i].Lat,
			Lng:     coords[i].Lng,
			Demand:  r.Demand,
		})
		if err != nil {
			return res, fmt.Errorf("import %s: %w", src.Name(), err)
		}
		res.Items = append(res.Items, d)
	}
	res.Created = len(res.Items)
	s.Log.Info("deliveries imported", "source", res.Source, "created", res.Created)
	return res, nil
}

func (s *Service) Routes(ctx context.Context) ([]model.VehicleRoute, error) {
	return s.Store.ListRoutes(ctx)
}

func (s *Service) PlanMetrics(ctx context.Context, strategy string, limit int) ([]model.PlanMetrics, error) {
	return s.Store.ListPlanMetrics(ctx, strategy, limit)
}

// FleetCapacities picks the capacities for a request: explicit capacities
// win; otherwise numVehicles cycles through the defaults; otherwise the
// defaults are used as is.
func FleetCapacities(req model.OptimizeRequest, defaults []int) ([]int, error) {
	if len(req.Capacities) > 0 {
		return append([]int(nil), req.Capacities...), nil
	}
	if req.NumVehicles < 0 {
		return nil, &InputError{Field: "numVehicles", Reason: "must be >= 0"}
	}
	if len(defaults) == 0 {
		return nil, &InputError{Field: "capacities", Reason: "no capacities given and no default fleet configured"}
	}
	if req.NumVehicles == 0 {
		return append([]int(nil), defaults...), nil
	}
	out := make([]int, req.NumVehicles)
	for i := range out {
		out[i] = defaults[i%len(defaults)]
	}
	return out, nil
}

func (s *Service) matrixSource(batchSize int) distmatrix.MatrixSource {
	if batchSize <= 0 {
		batchSize = s.Defaults.BatchSize
	}
	b := &distmatrix.Builder{
		Oracle:      s.Oracle,
		BatchSize:   batchSize,
		Concurrency: s.Defaults.Concurrency,
		Log:         s.Log,
	}
	if s.Cache == nil {
		return b
	}
	return &distmatrix.CachedBuilder{Builder: b, Cache: s.Cache, Namespace: s.CacheNamespace, Log: s.Log}
}

// Optimize routes the stored depot and deliveries. The instance is
// validated before any distance is queried. On success the stored routes
// are replaced and plan metrics recorded.
func (s *Service) Optimize(ctx context.Context, req model.OptimizeRequest) (model.OptimizeResponse, error) {
	var resp model.OptimizeResponse
	if req.TimeLimitMs < 0 {
		return resp, &InputError{Field: "timeLimitMs", Reason: "must be >= 0"}
	}
	if req.BatchSize < 0 {
		return resp, &InputError{Field: "batchSize", Reason: "must be >= 0"}
	}
	if req.SpanCoefficient != nil && *req.SpanCoefficient < 0 {
		return resp, &InputError{Field: "spanCoefficient", Reason: "must be >= 0"}
	}
	caps, err := FleetCapacities(req, s.Defaults.Capacities)
	if err != nil {
		return resp, err
	}

	sreq := opt.OptimizeRequest{
		TimeLimit:       s.Defaults.TimeLimit,
		DistanceBound:   s.Defaults.DistanceBound,
		SpanCoefficient: s.Defaults.SpanCoefficient,
		Strategy:        s.Defaults.Strategy,
		Options:         opt.StrategyOptions{Seed: req.Seed, MaxIterations: req.MaxIterations},
	}
	if req.TimeLimitMs > 0 {
		sreq.TimeLimit = time.Duration(req.TimeLimitMs) * time.Millisecond
	}
	if req.DistanceBound != nil {
		sreq.DistanceBound = *req.DistanceBound
	}
	if req.SpanCoefficient != nil {
		sreq.SpanCoefficient = *req.SpanCoefficient
	}
	if req.Strategy != "" {
		sreq.Strategy = req.Strategy
	}
	// reject unknown strategies before any oracle call
	if _, err := opt.StrategyByName(sreq.Strategy, sreq.Options); err != nil {
		return resp, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locations, err := s.locations(ctx)
	if err != nil {
		return resp, err
	}
	inst, err := opt.NewInstance(locations, caps)
	if err != nil {
		return resp, err
	}

	planID := s.id()
	log := s.Log.WithValues("plan", planID)
	ctx = logr.NewContext(ctx, log)

	m, err := s.matrixSource(req.BatchSize).Build(ctx, inst.Coordinates())
	if err != nil {
		s.emit(ctx, model.EventOptimizeFailed, planID, map[string]any{"error": err.Error()})
		return resp, fmt.Errorf("build distance matrix: %w", err)
	}
	p, err := inst.WithMatrix(m)
	if err != nil {
		return resp, err
	}

	sol, err := opt.Solve(ctx, p, sreq)
	if err != nil {
		s.emit(ctx, model.EventOptimizeFailed, planID, map[string]any{"error": err.Error()})
		return resp, err
	}

	routes := make([]model.VehicleRoute, len(sol.Routes))
	for i, r := range sol.Routes {
		routes[i] = model.VehicleRoute{
			PlanID:    planID,
			VehicleID: r.VehicleID,
			Nodes:     r.Nodes,
			Addresses: sol.RouteAddresses(r.VehicleID),
			Distance:  r.Distance,
			Load:      r.Load,
			Capacity:  r.Capacity,
		}
	}
	if err := s.Store.ReplaceRoutes(ctx, planID, routes); err != nil {
		return resp, fmt.Errorf("store routes: %w", err)
	}

	pm := planMetrics(planID, p, sol)
	if err := s.Store.SavePlanMetrics(ctx, pm); err != nil {
		log.Error(err, "save plan metrics")
	}

	resp = model.OptimizeResponse{
		PlanID:           planID,
		Strategy:         sol.Strategy,
		Routes:           routes,
		TotalDistance:    sol.TotalDistance,
		MaxRouteDistance: sol.MaxRouteDistance,
		Objective:        sol.Objective,
		Metrics:          pm,
	}
	s.emit(ctx, model.EventRoutesOptimized, planID, map[string]any{
		"strategy":      sol.Strategy,
		"vehicles":      len(routes),
		"totalDistance": sol.TotalDistance,
		"objective":     sol.Objective,
	})
	return resp, nil
}

// locations returns the depot followed by the deliveries in stored order.
func (s *Service) locations(ctx context.Context) ([]opt.Location, error) {
	depot, err := s.Store.GetDepot(ctx)
	if errors.Is(err, store.ErrNoDepot) {
		return nil, &opt.ConfigurationError{Reason: "depot not set"}
	}
	if err != nil {
		return nil, err
	}
	deliveries, err := s.Store.ListDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]opt.Location, 0, len(deliveries)+1)
	out = append(out, opt.Location{
		ID:         "depot",
		Address:    depot.Address,
		Coordinate: geo.Coordinate{Lat: depot.Lat, Lng: depot.Lng},
		Depot:      true,
	})
	for _, d := range deliveries {
		out = append(out, opt.Location{
			ID:         d.ID,
			Address:    d.Address,
			Coordinate: geo.Coordinate{Lat: d.Lat, Lng: d.Lng},
			Demand:     d.Demand,
		})
	}
	return out, nil
}

func planMetrics(planID string, p *opt.Problem, sol *opt.Solution) model.PlanMetrics {
	st := sol.Stats
	pm := model.PlanMetrics{
		PlanID:           planID,
		Strategy:         sol.Strategy,
		Locations:        p.NumNodes(),
		Vehicles:         p.NumVehicles(),
		Iterations:       st.Iterations,
		Improvements:     st.Improvements,
		AcceptedWorse:    st.AcceptedWorse,
		InitialObjective: st.InitialObjective,
		BestObjective:    sol.Objective,
		TotalDistance:    sol.TotalDistance,
		MaxRouteDistance: sol.MaxRouteDistance,
		ElapsedMs:        st.Elapsed.Milliseconds(),
		Converged:        st.Converged,
		DeadlineHit:      st.DeadlineHit,
	}
	if st.Operators != nil {
		if b, err := json.Marshal(st.Operators); err == nil {
			pm.Operators = b
		}
	}
	return pm
}
