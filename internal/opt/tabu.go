package opt

import (
	"context"
	"slices"
	"time"

	"github.com/go-logr/logr"
)

const (
	defaultMaxNoImprove = 200
	minTenure           = 3
	maxTenure           = 15
)

// TabuSearch is the default improver. Each iteration scans relocate,
// exchange, 2-opt and 2-opt* neighbourhoods and commits the best admissible
// feasible move, even when it worsens the plan. A node moved out of a
// vehicle may not return to it for Tenure iterations unless doing so beats
// the best objective seen (aspiration).
//
// The search is deterministic: for the same plan it visits the same
// sequence of moves, so a longer budget never ends on a worse best.
type TabuSearch struct {
	Tenure        int // 0 picks a size-based default
	MaxNoImprove  int // consecutive non-improving iterations before stopping
	MaxIterations int // 0 = until deadline
}

func (t *TabuSearch) Name() string { return "tabu" }

type moveKind uint8

const (
	moveRelocate moveKind = iota
	moveExchange
	moveTwoOpt
	moveTwoOptStar
)

func (k moveKind) String() string {
	return [...]string{"relocate", "exchange", "2-opt", "2-opt*"}[k]
}

// move is a candidate change to at most two routes. newA and newB are the
// full replacement routes; b < 0 for intra-route moves.
type move struct {
	kind       moveKind
	a, b       int
	newA, newB []int
	distA      int64
	distB      int64
	obj        float64
	nodes      [2]int // nodes whose vehicle attribute is checked, -1 if unused
	dests      [2]int // destination vehicle per entry in nodes
}

type tabuState struct {
	plan     *Plan
	until    []int // node*V+vehicle -> first iteration the pair is allowed again
	vehicles int
	iter     int
	bestObj  float64
	clock    *clock
	found    bool
	best     move
}

func (ts *tabuState) isTabu(m *move) bool {
	for k, x := range m.nodes {
		if x >= 0 && ts.until[x*ts.vehicles+m.dests[k]] > ts.iter {
			return true
		}
	}
	return false
}

// offer records m if it is admissible and beats the incumbent candidate.
// Candidate slices are cloned on acceptance since callers reuse buffers.
func (ts *tabuState) offer(m move) {
	if ts.found && m.obj >= ts.best.obj-eps {
		return
	}
	if ts.isTabu(&m) && m.obj >= ts.bestObj-eps {
		return
	}
	m.newA = slices.Clone(m.newA)
	m.newB = slices.Clone(m.newB)
	ts.best, ts.found = m, true
}

func (t *TabuSearch) Improve(ctx context.Context, c *Constraints, start *Plan, deadline time.Time, stats *SearchStats) *Plan {
	log := logr.FromContextOrDiscard(ctx)
	n, v := c.p.NumNodes(), c.p.NumVehicles()
	tenure := t.Tenure
	if tenure <= 0 {
		tenure = min(max(n/4, minTenure), maxTenure)
	}
	maxNoImprove := t.MaxNoImprove
	if maxNoImprove <= 0 {
		maxNoImprove = defaultMaxNoImprove
	}

	ts := &tabuState{
		plan:     start.Clone(),
		until:    make([]int, n*v),
		vehicles: v,
		bestObj:  start.Objective(),
		clock:    newClock(ctx, deadline),
	}
	best := start.Clone()
	noImprove := 0

	for ts.iter = 1; ; ts.iter++ {
		if t.MaxIterations > 0 && ts.iter > t.MaxIterations {
			break
		}
		if ts.clock.check() {
			stats.DeadlineHit = true
			break
		}
		ts.found = false
		ts.scan()
		if ts.clock.expired {
			// A scan cut short may have missed the best move; drop it.
			stats.DeadlineHit = true
			break
		}
		if !ts.found {
			log.V(1).Info("tabu search exhausted neighbourhood", "iteration", ts.iter)
			break
		}

		m := ts.best
		ts.commit(&m, tenure)
		stats.Iterations++

		if obj := ts.plan.Objective(); obj < ts.bestObj-eps {
			ts.bestObj = obj
			best = ts.plan.Clone()
			stats.Improvements++
			noImprove = 0
			log.V(1).Info("tabu improvement", "iteration", ts.iter, "move", m.kind.String(), "objective", obj)
		} else {
			noImprove++
			if noImprove >= maxNoImprove {
				stats.Converged = true
				break
			}
		}
	}
	return best
}

// commit applies m. A node that changes vehicle may not return to the one it
// left for tenure iterations; moves within a route leave no tabu attribute.
func (ts *tabuState) commit(m *move, tenure int) {
	p := ts.plan
	prev := [2]int{-1, -1}
	for k, x := range m.nodes {
		if x >= 0 {
			prev[k] = ts.vehicleOf(x)
		}
	}
	p.SetRoute(m.a, m.newA)
	if m.b >= 0 {
		p.SetRoute(m.b, m.newB)
	}
	for k, x := range m.nodes {
		if x >= 0 && prev[k] >= 0 && prev[k] != m.dests[k] {
			ts.until[x*ts.vehicles+prev[k]] = ts.iter + tenure + 1
		}
	}
}

func (ts *tabuState) vehicleOf(node int) int {
	for v, r := range ts.plan.routes {
		if slices.Contains(r, node) {
			return v
		}
	}
	return -1
}

// scan evaluates every neighbourhood. It returns early once the clock
// expires.
func (ts *tabuState) scan() {
	p := ts.plan
	c := p.c
	var bufA, bufB []int

	for a, ra := range p.routes {
		for i, x := range ra {
			dx := c.p.demand[x]
			// Relocate x into another route.
			removedDist := c.removalCost(ra, p.dist[a], i)
			for b, rb := range p.routes {
				if b == a {
					continue
				}
				if !c.CapacityOK(b, p.load[b]+dx) {
					continue
				}
				for j := 0; j <= len(rb); j++ {
					if ts.clock.tick() {
						return
					}
					db := c.insertionCost(rb, p.dist[b], x, j)
					if !c.DistanceOK(db) || !c.DistanceOK(removedDist) {
						continue
					}
					bufA = append(bufA[:0], ra[:i]...)
					bufA = append(bufA, ra[i+1:]...)
					bufB = append(bufB[:0], rb[:j]...)
					bufB = append(bufB, x)
					bufB = append(bufB, rb[j:]...)
					ts.offer(move{
						kind: moveRelocate, a: a, b: b, newA: bufA, newB: bufB,
						distA: removedDist, distB: db,
						obj:   p.objectiveWith(a, removedDist, b, db),
						nodes: [2]int{x, -1}, dests: [2]int{b, -1},
					})
				}
			}
			// Relocate x within its own route.
			rest := removeAt(ra, i)
			for j := 0; j <= len(rest); j++ {
				if j == i {
					continue
				}
				if ts.clock.tick() {
					return
				}
				bufA = append(bufA[:0], rest[:j]...)
				bufA = append(bufA, x)
				bufA = append(bufA, rest[j:]...)
				da := c.RouteDistance(bufA)
				if !c.DistanceOK(da) {
					continue
				}
				ts.offer(move{
					kind: moveRelocate, a: a, b: -1, newA: bufA, distA: da,
					obj:   p.objectiveWith(a, da, -1, 0),
					nodes: [2]int{x, -1}, dests: [2]int{a, -1},
				})
			}
		}
	}

	// Exchange two nodes.
	for a, ra := range p.routes {
		for b := a; b < len(p.routes); b++ {
			rb := p.routes[b]
			for i, x := range ra {
				jStart := 0
				if a == b {
					jStart = i + 1
				}
				for j := jStart; j < len(rb); j++ {
					if ts.clock.tick() {
						return
					}
					y := rb[j]
					if a == b {
						bufA = append(bufA[:0], ra...)
						bufA[i], bufA[j] = y, x
						da := c.RouteDistance(bufA)
						if !c.DistanceOK(da) {
							continue
						}
						ts.offer(move{
							kind: moveExchange, a: a, b: -1, newA: bufA, distA: da,
							obj:   p.objectiveWith(a, da, -1, 0),
							nodes: [2]int{x, y}, dests: [2]int{a, a},
						})
						continue
					}
					shift := c.p.demand[y] - c.p.demand[x]
					if !c.CapacityOK(a, p.load[a]+shift) || !c.CapacityOK(b, p.load[b]-shift) {
						continue
					}
					bufA = append(bufA[:0], ra...)
					bufA[i] = y
					bufB = append(bufB[:0], rb...)
					bufB[j] = x
					da, db := c.RouteDistance(bufA), c.RouteDistance(bufB)
					if !c.DistanceOK(da) || !c.DistanceOK(db) {
						continue
					}
					ts.offer(move{
						kind: moveExchange, a: a, b: b, newA: bufA, newB: bufB,
						distA: da, distB: db,
						obj:   p.objectiveWith(a, da, b, db),
						nodes: [2]int{x, y}, dests: [2]int{b, a},
					})
				}
			}
		}
	}

	// 2-opt: reverse ra[i..k].
	for a, ra := range p.routes {
		for i := 0; i < len(ra)-1; i++ {
			for k := i + 1; k < len(ra); k++ {
				if ts.clock.tick() {
					return
				}
				bufA = twoOptSwapInto(bufA, ra, i, k)
				da := c.RouteDistance(bufA)
				if !c.DistanceOK(da) {
					continue
				}
				ts.offer(move{
					kind: moveTwoOpt, a: a, b: -1, newA: bufA, distA: da,
					obj:   p.objectiveWith(a, da, -1, 0),
					nodes: [2]int{ra[i], ra[k]}, dests: [2]int{a, a},
				})
			}
		}
	}

	// 2-opt*: exchange tails ra[i:] and rb[j:].
	for a, ra := range p.routes {
		for b := a + 1; b < len(p.routes); b++ {
			rb := p.routes[b]
			for i := 0; i <= len(ra); i++ {
				for j := 0; j <= len(rb); j++ {
					if (i == 0 && j == 0) || (i == len(ra) && j == len(rb)) {
						continue
					}
					if ts.clock.tick() {
						return
					}
					bufA = append(append(bufA[:0], ra[:i]...), rb[j:]...)
					bufB = append(append(bufB[:0], rb[:j]...), ra[i:]...)
					if !c.CapacityOK(a, c.RouteLoad(bufA)) || !c.CapacityOK(b, c.RouteLoad(bufB)) {
						continue
					}
					da, db := c.RouteDistance(bufA), c.RouteDistance(bufB)
					if !c.DistanceOK(da) || !c.DistanceOK(db) {
						continue
					}
					m := move{
						kind: moveTwoOptStar, a: a, b: b, newA: bufA, newB: bufB,
						distA: da, distB: db,
						obj:   p.objectiveWith(a, da, b, db),
						nodes: [2]int{-1, -1}, dests: [2]int{-1, -1},
					}
					if j < len(rb) {
						m.nodes[0], m.dests[0] = rb[j], a
					}
					if i < len(ra) {
						m.nodes[1], m.dests[1] = ra[i], b
					}
					ts.offer(m)
				}
			}
		}
	}
}
