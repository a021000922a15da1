package api

import (
	"fmt"
	"slices"

	"fleetroute/internal/model"
	"fleetroute/internal/opt"
)

const (
	maxTimeLimitMs = 60_000
	maxVehicles    = 100
	maxBatchSize   = 50
)

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.Strategy != "" && !slices.Contains(opt.Strategies(), req.Strategy) {
		return fmt.Errorf("invalid strategy: %s (allowed: %v)", req.Strategy, opt.Strategies())
	}
	if req.TimeLimitMs < 0 || req.TimeLimitMs > maxTimeLimitMs {
		return fmt.Errorf("timeLimitMs must be in [0,%d]", maxTimeLimitMs)
	}
	if req.NumVehicles < 0 || req.NumVehicles > maxVehicles {
		return fmt.Errorf("numVehicles must be in [0,%d]", maxVehicles)
	}
	if len(req.Capacities) > maxVehicles {
		return fmt.Errorf("at most %d capacities", maxVehicles)
	}
	if req.NumVehicles > 0 && len(req.Capacities) > 0 && req.NumVehicles != len(req.Capacities) {
		return fmt.Errorf("numVehicles (%d) does not match %d capacities", req.NumVehicles, len(req.Capacities))
	}
	if req.BatchSize < 0 || req.BatchSize > maxBatchSize {
		return fmt.Errorf("batchSize must be in [0,%d]", maxBatchSize)
	}
	if req.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if req.SpanCoefficient != nil && *req.SpanCoefficient < 0 {
		return fmt.Errorf("spanCoefficient must be >= 0")
	}
	return nil
}
