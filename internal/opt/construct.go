package opt

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// insertion is a candidate placement of node into vehicle v before pos.
type insertion struct {
	node, v, pos int
	dist         int64 // closed-route distance of v afterwards
	obj          float64
}

func noInsertion() insertion { return insertion{v: -1, obj: math.Inf(1)} }

func (ins insertion) ok() bool { return ins.v >= 0 }

// before orders candidates by objective, then vehicle, node and position.
func (ins insertion) before(o insertion) bool {
	if !o.ok() {
		return ins.ok()
	}
	if ins.obj < o.obj-eps {
		return true
	}
	if ins.obj > o.obj+eps {
		return false
	}
	if ins.v != o.v {
		return ins.v < o.v
	}
	if ins.node != o.node {
		return ins.node < o.node
	}
	return ins.pos < o.pos
}

// bestInsertions returns the cheapest and second-cheapest feasible
// placements of node across the fleet. The second is only used for
// regret; it is !ok when fewer than two placements exist.
func (p *Plan) bestInsertions(node int) (best, second insertion) {
	best, second = noInsertion(), noInsertion()
	demand := p.c.p.demand[node]
	for v, r := range p.routes {
		if !p.c.CapacityOK(v, p.load[v]+demand) {
			continue
		}
		for pos := 0; pos <= len(r); pos++ {
			d := p.c.insertionCost(r, p.dist[v], node, pos)
			if !p.c.DistanceOK(d) {
				continue
			}
			cand := insertion{node: node, v: v, pos: pos, dist: d, obj: p.objectiveWith(v, d, -1, 0)}
			switch {
			case cand.before(best):
				second, best = best, cand
			case cand.before(second):
				second = cand
			}
		}
	}
	return best, second
}

func (p *Plan) apply(ins insertion) {
	p.SetRoute(ins.v, insertAt(p.routes[ins.v], ins.node, ins.pos))
}

// insertCheapest repeatedly commits the globally cheapest feasible
// insertion among pending nodes. It returns the nodes it could not place.
func (p *Plan) insertCheapest(ctx context.Context, pending []int) ([]int, error) {
	pending = slices.Clone(pending)
	slices.Sort(pending)
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return pending, err
		}
		best, at := noInsertion(), -1
		for k, node := range pending {
			cand, _ := p.bestInsertions(node)
			if cand.ok() && cand.before(best) {
				best, at = cand, k
			}
		}
		if at < 0 {
			return pending, nil
		}
		p.apply(best)
		pending = slices.Delete(pending, at, at+1)
	}
	return nil, nil
}

// insertBestFit places nodes heaviest first, each into the vehicle left
// with the least spare capacity, at its cheapest position there. It packs
// tight fleets that greedy cost-driven insertion can strand.
func (p *Plan) insertBestFit(ctx context.Context, pending []int) ([]int, error) {
	order := slices.Clone(pending)
	demand := p.c.p.demand
	slices.SortStableFunc(order, func(a, b int) int {
		if demand[a] != demand[b] {
			return demand[b] - demand[a]
		}
		return a - b
	})
	var unplaced []int
	for _, node := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best, bestSpare := noInsertion(), math.MaxInt
		for v, r := range p.routes {
			spare := p.c.p.capacity[v] - p.load[v] - demand[node]
			if spare < 0 || spare > bestSpare {
				continue
			}
			for pos := 0; pos <= len(r); pos++ {
				d := p.c.insertionCost(r, p.dist[v], node, pos)
				if !p.c.DistanceOK(d) {
					continue
				}
				cand := insertion{node: node, v: v, pos: pos, dist: d, obj: p.objectiveWith(v, d, -1, 0)}
				if spare < bestSpare || cand.before(best) {
					best, bestSpare = cand, spare
				}
			}
		}
		if !best.ok() {
			unplaced = append(unplaced, node)
			continue
		}
		p.apply(best)
	}
	slices.Sort(unplaced)
	return unplaced, nil
}

// CheapestInsertion is the default deterministic constructor. Starting from
// empty routes it commits, one node at a time, the feasible insertion with
// the smallest objective increase. If that strands a node it retries with
// a best-fit packing before giving up.
type CheapestInsertion struct{}

func (CheapestInsertion) Name() string { return "cheapest-insertion" }

func (CheapestInsertion) Construct(ctx context.Context, c *Constraints) (*Plan, error) {
	p := NewPlan(c)
	all := make([]int, 0, c.p.NumNodes()-1)
	for i := 1; i < c.p.NumNodes(); i++ {
		all = append(all, i)
	}
	if len(all) == 0 {
		return p, nil
	}
	if c.p.totalDemand > c.p.totalCapacity {
		return nil, c.noSolution(all)
	}

	unplaced, err := p.insertCheapest(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("cheapest insertion: %w", err)
	}
	if len(unplaced) == 0 {
		return p, nil
	}

	packed := NewPlan(c)
	stranded, err := packed.insertBestFit(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("best-fit insertion: %w", err)
	}
	if len(stranded) == 0 {
		return packed, nil
	}
	if len(stranded) < len(unplaced) {
		unplaced = stranded
	}
	return nil, c.noSolution(unplaced)
}
