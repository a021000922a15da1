package opt

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-logr/logr"
)

// Annealing is an adaptive large neighbourhood search with simulated
// annealing acceptance. Each iteration removes a few nodes (random or
// related), reinserts them (greedy or regret-2) and polishes routes with
// 2-opt. Operators are chosen by roulette wheel and rewarded when they
// produce accepted or improving plans. Repairs only place nodes where both
// dimensions allow, so every plan it keeps is feasible.
type Annealing struct {
	Seed                    int64 // 0 seeds from the clock
	MaxIterations           int
	InitialTemp             float64 // 0 derives it from the starting objective
	Cooling                 float64 // per-iteration factor in (0,1)
	InitialRemovalWeights   []float64 // [random, related]
	InitialInsertionWeights []float64 // [greedy, regret2]
}

func (a *Annealing) Name() string { return "alns" }

const snapshotEvery = 50

func (a *Annealing) Improve(ctx context.Context, c *Constraints, start *Plan, deadline time.Time, stats *SearchStats) *Plan {
	log := logr.FromContextOrDiscard(ctx)
	seed := a.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	routed := len(start.assigned())
	if routed == 0 {
		return start
	}

	remW := []float64{1, 1}
	insW := []float64{1, 1}
	if len(a.InitialRemovalWeights) == 2 {
		remW = []float64{a.InitialRemovalWeights[0], a.InitialRemovalWeights[1]}
	}
	if len(a.InitialInsertionWeights) == 2 {
		insW = []float64{a.InitialInsertionWeights[0], a.InitialInsertionWeights[1]}
	}
	temp := a.InitialTemp
	if temp <= 0 {
		// Accept a 1% worse plan with probability ~1/e at the start.
		temp = math.Max(1, 0.01*start.Objective())
	}
	cool := 0.995
	if a.Cooling > 0 && a.Cooling < 1 {
		cool = a.Cooling
	}
	maxRemove := min(max(3, routed/5), routed)

	ops := &OperatorStats{}
	stats.Operators = ops
	curr, best := start.Clone(), start.Clone()
	currObj, bestObj := curr.Objective(), best.Objective()
	clk := newClock(ctx, deadline)

	for {
		if a.MaxIterations > 0 && stats.Iterations >= a.MaxIterations {
			break
		}
		if clk.check() {
			stats.DeadlineHit = true
			break
		}
		stats.Iterations++

		k := 1 + rng.Intn(maxRemove)
		op := selectOp(remW, rng)
		ops.RemovalSelects[op]++
		ip := selectOp(insW, rng)
		ops.InsertSelects[ip]++

		cand := curr.Clone()
		var removed []int
		switch op {
		case 0:
			removed = pickRandomNodes(cand, k, rng)
		case 1:
			removed = relatedRemoval(cand, k, rng)
		}
		cand.removeNodes(removed)

		var repaired bool
		switch ip {
		case 0:
			repaired = cand.greedyRepair(removed)
		case 1:
			repaired = cand.regretRepair(removed)
		}
		if !repaired {
			ops.RepairFailures++
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
			temp *= cool
			continue
		}
		cand.polish()

		candObj := cand.Objective()
		delta := candObj - currObj
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr, currObj = cand, candObj
			if currObj < bestObj-eps {
				best, bestObj = curr.Clone(), currObj
				remW[op] += 0.1
				insW[ip] += 0.1
				stats.Improvements++
				log.V(1).Info("alns improvement", "iteration", stats.Iterations, "objective", bestObj)
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				if delta > eps {
					stats.AcceptedWorse++
				}
			}
		} else {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool

		if stats.Iterations%snapshotEvery == 0 {
			ops.Snapshots = append(ops.Snapshots, WeightSnapshot{
				Iteration: stats.Iterations,
				Removal:   [2]float64{remW[0], remW[1]},
				Insertion: [2]float64{insW[0], insW[1]},
			})
		}
	}
	ops.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	ops.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	return best
}
