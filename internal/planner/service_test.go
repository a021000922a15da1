package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/geo"
	"fleetroute/internal/integrations"
	"fleetroute/internal/integrations/csvfile"
	"fleetroute/internal/integrations/greatcircle"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/store"
)

// countingProvider wraps the offline provider and counts oracle calls.
type countingProvider struct {
	*greatcircle.Provider
	calls atomic.Int64
	fail  error
}

func (p *countingProvider) BatchCost(ctx context.Context, o, d []geo.Coordinate) ([][]int64, error) {
	p.calls.Add(1)
	if p.fail != nil {
		return nil, p.fail
	}
	return p.Provider.BatchCost(ctx, o, d)
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(_ context.Context, ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestService(t *testing.T) (*Service, *countingProvider, *recorder) {
	t.Helper()
	prov := &countingProvider{Provider: greatcircle.NewProvider(1.3, map[string]geo.Coordinate{
		"1 Depot Way": {Lat: 40.0, Lng: -75.0},
		"2 Elm St":    {Lat: 40.01, Lng: -75.0},
	})}
	rec := &recorder{}
	s := &Service{
		Store:        store.NewMemory(),
		Resolver:     prov,
		Oracle:       prov,
		ProviderName: "test",
		Defaults: Defaults{
			Capacities:      []int{15, 20, 25, 10},
			TimeLimit:       200 * time.Millisecond,
			DistanceBound:   opt.DefaultDistanceBound,
			SpanCoefficient: opt.DefaultSpanCoefficient,
			Strategy:        opt.StrategyTabu,
			BatchSize:       3,
			Concurrency:     2,
		},
		Notifiers: []Notifier{rec},
		Log:       logr.Discard(),
	}
	return s, prov, rec
}

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T, s *Service, deliveries int, demand int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.SetDepot(ctx, model.DepotIn{Address: "1 Depot Way"})
	require.NoError(t, err)
	for i := 0; i < deliveries; i++ {
		_, err := s.AddDelivery(ctx, model.DeliveryIn{
			Address: fmt.Sprintf("%d Oak St", i+1),
			Demand:  ptr(demand),
			Lat:     ptr(40.0 + 0.005*float64(i%4+1)),
			Lng:     ptr(-75.0 + 0.004*float64(i/4)),
		})
		require.NoError(t, err)
	}
}

func TestOptimizeStoresRoutes(t *testing.T) {
	ctx := context.Background()
	s, prov, rec := newTestService(t)
	seed(t, s, 7, 2)

	resp, err := s.Optimize(ctx, model.OptimizeRequest{NumVehicles: 2, TimeLimitMs: 100})
	require.NoError(t, err)

	// 8 nodes in batches of 3 -> 3x3 chunk pairs.
	assert.EqualValues(t, 9, prov.calls.Load())
	require.Len(t, resp.Routes, 2)
	assert.Equal(t, 15, resp.Routes[0].Capacity)
	assert.Equal(t, 20, resp.Routes[1].Capacity)

	seen := map[int]bool{}
	for _, r := range resp.Routes {
		assert.Equal(t, 0, r.Nodes[0])
		assert.Equal(t, 0, r.Nodes[len(r.Nodes)-1])
		assert.LessOrEqual(t, r.Load, r.Capacity)
		assert.LessOrEqual(t, r.Distance, opt.DefaultDistanceBound)
		require.Len(t, r.Addresses, len(r.Nodes))
		assert.Equal(t, "1 Depot Way", r.Addresses[0])
		for _, n := range r.Nodes[1 : len(r.Nodes)-1] {
			assert.False(t, seen[n], "node %d visited twice", n)
			seen[n] = true
		}
	}
	assert.Len(t, seen, 7)

	stored, err := s.Routes(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.Routes[0].Nodes, stored[0].Nodes)
	assert.Equal(t, resp.PlanID, stored[0].PlanID)

	pms, err := s.PlanMetrics(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, pms, 1)
	assert.Equal(t, resp.PlanID, pms[0].PlanID)
	assert.Equal(t, 8, pms[0].Locations)

	assert.Equal(t, []string{model.EventDepotChanged, model.EventRoutesOptimized}, rec.types())
}

func TestOptimizeRejectsOversizedDemandBeforeQuerying(t *testing.T) {
	ctx := context.Background()
	s, prov, _ := newTestService(t)
	seed(t, s, 2, 1)
	_, err := s.AddDelivery(ctx, model.DeliveryIn{Address: "Big", Demand: ptr(30), Lat: ptr(40.02), Lng: ptr(-75.0)})
	require.NoError(t, err)

	_, err = s.Optimize(ctx, model.OptimizeRequest{})
	var cfg *opt.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Zero(t, prov.calls.Load())
}

func TestOptimizeWithoutDepot(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.Optimize(context.Background(), model.OptimizeRequest{})
	var cfg *opt.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Reason, "depot")
}

func TestOptimizeDepotOnly(t *testing.T) {
	s, _, _ := newTestService(t)
	seed(t, s, 0, 0)
	resp, err := s.Optimize(context.Background(), model.OptimizeRequest{Capacities: []int{5, 5}})
	require.NoError(t, err)
	require.Len(t, resp.Routes, 2)
	for _, r := range resp.Routes {
		assert.Equal(t, []int{0, 0}, r.Nodes)
		assert.Zero(t, r.Distance)
	}
	assert.Zero(t, resp.TotalDistance)
}

func TestOptimizeOracleFailureKeepsOldRoutes(t *testing.T) {
	ctx := context.Background()
	s, prov, rec := newTestService(t)
	seed(t, s, 4, 1)
	first, err := s.Optimize(ctx, model.OptimizeRequest{TimeLimitMs: 50})
	require.NoError(t, err)

	prov.fail = errors.New("quota exceeded")
	_, err = s.Optimize(ctx, model.OptimizeRequest{TimeLimitMs: 50})
	var dq *distmatrix.DistanceQueryError
	require.ErrorAs(t, err, &dq)

	stored, err := s.Routes(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, first.PlanID, stored[0].PlanID)
	assert.Contains(t, rec.types(), model.EventOptimizeFailed)
}

func TestOptimizeInfeasibleFleet(t *testing.T) {
	s, _, _ := newTestService(t)
	seed(t, s, 6, 5)
	_, err := s.Optimize(context.Background(), model.OptimizeRequest{Capacities: []int{10, 10}})
	var ns *opt.NoSolutionError
	require.ErrorAs(t, err, &ns)
	assert.Equal(t, 30, ns.TotalDemand)
	assert.Equal(t, 20, ns.TotalCapacity)
}

func TestOptimizeValidatesInput(t *testing.T) {
	s, _, _ := newTestService(t)
	for _, req := range []model.OptimizeRequest{
		{TimeLimitMs: -1},
		{BatchSize: -2},
		{NumVehicles: -1},
		{SpanCoefficient: ptr(-1.0)},
	} {
		_, err := s.Optimize(context.Background(), req)
		var in *InputError
		assert.ErrorAs(t, err, &in, "%+v", req)
	}
}

func TestAddDelivery(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService(t)

	d, err := s.AddDelivery(ctx, model.DeliveryIn{Address: "  2   Elm St "})
	require.NoError(t, err)
	assert.Equal(t, "2 Elm St", d.Address)
	assert.Equal(t, 1, d.Demand)
	assert.Equal(t, 40.01, d.Lat)

	_, err = s.AddDelivery(ctx, model.DeliveryIn{Address: "9 Nowhere Rd"})
	var re *integrations.ResolveError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, integrations.ErrNoMatch)

	var in *InputError
	_, err = s.AddDelivery(ctx, model.DeliveryIn{Address: ""})
	assert.ErrorAs(t, err, &in)
	_, err = s.AddDelivery(ctx, model.DeliveryIn{Address: "x", Demand: ptr(-1)})
	assert.ErrorAs(t, err, &in)
	_, err = s.AddDelivery(ctx, model.DeliveryIn{Address: "x", Lat: ptr(1.0)})
	assert.ErrorAs(t, err, &in)
	_, err = s.AddDelivery(ctx, model.DeliveryIn{Address: "x", Lat: ptr(91.0), Lng: ptr(0.0)})
	assert.ErrorAs(t, err, &in)

	list, err := s.Deliveries(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSetDepotClearsRoutes(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService(t)
	seed(t, s, 3, 1)
	_, err := s.Optimize(ctx, model.OptimizeRequest{TimeLimitMs: 50})
	require.NoError(t, err)

	_, err = s.SetDepot(ctx, model.DepotIn{Address: "2 Elm St"})
	require.NoError(t, err)
	routes, err := s.Routes(ctx)
	require.NoError(t, err)
	assert.Empty(t, routes)

	d, err := s.Depot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2 Elm St", d.Address)
}

func TestImportDeliveries(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService(t)
	body := "address,demand,lat,lng,depot\n" +
		"1 Depot Way,,,,true\n" +
		"2 Elm St,3,,,\n" +
		"5 Pine St,,40.02,-75.01,\n"
	res, err := s.ImportDeliveries(ctx, csvfile.FromReader("upload.csv", strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, "csv:upload.csv", res.Source)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 3, res.Items[0].Demand)
	assert.Equal(t, 1, res.Items[1].Demand)

	d, err := s.Depot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, d.Lat)
}

func TestImportIsAllOrNothingOnResolveFailure(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService(t)
	body := "address\n2 Elm St\n9 Unknown Ave\n"
	_, err := s.ImportDeliveries(ctx, csvfile.FromReader("bad.csv", strings.NewReader(body)))
	var re *integrations.ResolveError
	require.ErrorAs(t, err, &re)
	list, _ := s.Deliveries(ctx)
	assert.Empty(t, list)
}

func TestFleetCapacities(t *testing.T) {
	defaults := []int{15, 20, 25, 10}
	cases := []struct {
		name string
		req  model.OptimizeRequest
		want []int
	}{
		{"defaults", model.OptimizeRequest{}, []int{15, 20, 25, 10}},
		{"first two", model.OptimizeRequest{NumVehicles: 2}, []int{15, 20}},
		{"cycle", model.OptimizeRequest{NumVehicles: 5}, []int{15, 20, 25, 10, 15}},
		{"explicit wins", model.OptimizeRequest{NumVehicles: 3, Capacities: []int{7}}, []int{7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FleetCapacities(tc.req, defaults)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	_, err := FleetCapacities(model.OptimizeRequest{}, nil)
	assert.Error(t, err)
}

func TestConfigReportsDefaults(t *testing.T) {
	s, _, _ := newTestService(t)
	cfg := s.Config()
	assert.Equal(t, "test", cfg.Provider)
	assert.Equal(t, []int{15, 20, 25, 10}, cfg.Capacities)
	assert.EqualValues(t, 200, cfg.TimeLimitMs)
	assert.Contains(t, cfg.Strategies, opt.StrategyTabu)
}

func TestOptimizeRejectsUnknownStrategyBeforeQuerying(t *testing.T) {
	s, prov, _ := newTestService(t)
	seed(t, s, 3, 1)
	_, err := s.Optimize(context.Background(), model.OptimizeRequest{Strategy: "genetic"})
	var cfg *opt.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Zero(t, prov.calls.Load())
}

func TestOptimizeCachesUnderProviderNamespace(t *testing.T) {
	ctx := context.Background()
	s, prov, _ := newTestService(t)
	cache := distmatrix.NewMemoryCache(0)
	s.Cache = cache
	s.CacheNamespace = "greatcircle:1.3"
	seed(t, s, 3, 1)

	_, err := s.Optimize(ctx, model.OptimizeRequest{TimeLimitMs: 20})
	require.NoError(t, err)
	calls := prov.calls.Load()

	locs, err := s.locations(ctx)
	require.NoError(t, err)
	coords := make([]geo.Coordinate, len(locs))
	for i, l := range locs {
		coords[i] = l.Coordinate
	}
	_, ok, err := cache.Get(ctx, "greatcircle:1.3:"+distmatrix.Key(coords))
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, _ = cache.Get(ctx, distmatrix.Key(coords))
	assert.False(t, ok, "unprefixed key is never written")

	_, err = s.Optimize(ctx, model.OptimizeRequest{TimeLimitMs: 20})
	require.NoError(t, err)
	assert.Equal(t, calls, prov.calls.Load(), "second run is served from the cache")
}
