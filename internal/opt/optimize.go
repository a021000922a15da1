// Package opt solves capacitated vehicle routing problems with a
// cumulative distance limit and a span penalty on the longest route.
package opt

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/metrics"
)

// DefaultTimeLimit is the search budget when a request leaves it unset.
const DefaultTimeLimit = time.Second

// OptimizeRequest describes one solve. Vehicles, when set, replaces
// Capacities. A zero DistanceBound leaves routes unbounded.
type OptimizeRequest struct {
	Locations       []Location
	Capacities      []int
	Vehicles        []Vehicle
	Matrix          distmatrix.Matrix
	TimeLimit       time.Duration
	DistanceBound   int64
	SpanCoefficient float64
	Strategy        string
	Options         StrategyOptions
}

// Optimize validates the request, searches within TimeLimit and extracts
// the solution. Errors are *ConfigurationError for invalid input and
// *NoSolutionError when no feasible routing was found.
func Optimize(ctx context.Context, req OptimizeRequest) (*Solution, error) {
	fleet := req.Vehicles
	if len(fleet) == 0 {
		fleet = Fleet(req.Capacities)
	}
	inst, err := NewInstanceWithFleet(req.Locations, fleet)
	if err != nil {
		return nil, err
	}
	p, err := inst.WithMatrix(req.Matrix)
	if err != nil {
		return nil, err
	}
	return Solve(ctx, p, req)
}

// Solve runs the requested strategy on an already built Problem. Only the
// search settings of req are read.
func Solve(ctx context.Context, p *Problem, req OptimizeRequest) (sol *Solution, err error) {
	log := logr.FromContextOrDiscard(ctx)
	strategy, err := StrategyByName(req.Strategy, req.Options)
	if err != nil {
		return nil, err
	}
	name := strategy.Name()
	limit := req.TimeLimit
	if limit <= 0 {
		limit = DefaultTimeLimit
	}
	c := NewConstraints(p, DistanceDimension{Bound: req.DistanceBound, SpanCoefficient: req.SpanCoefficient})

	start := time.Now()
	defer func() {
		outcome := "ok"
		var nse *NoSolutionError
		switch {
		case errors.As(err, &nse):
			outcome = "infeasible"
		case err != nil:
			outcome = "error"
		}
		metrics.OptimizeDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	}()

	a, stats, err := strategy.Search(ctx, c, start.Add(limit))
	metrics.SearchIterations.WithLabelValues(name).Add(float64(stats.Iterations))
	if err != nil {
		log.Info("search failed", "strategy", name, "problem", p.String(), "err", err.Error())
		return nil, err
	}
	sol, err = Extract(c, a)
	if err != nil {
		return nil, err
	}
	sol.Strategy = name
	sol.Stats = stats
	metrics.SolutionObjective.WithLabelValues(name).Set(sol.Objective)

	log.Info("search finished", "strategy", name, "nodes", p.NumNodes(), "vehicles", p.NumVehicles(),
		"iterations", stats.Iterations, "objective", sol.Objective, "totalDistance", sol.TotalDistance,
		"dur", stats.Elapsed.String())
	return sol, nil
}
