package opt

import (
	"math"
	"math/rand"
	"slices"
)

// twoOptSwapInto writes ord with ord[i..k] reversed into dst and returns it.
func twoOptSwapInto(dst, ord []int, i, k int) []int {
	dst = append(dst[:0], ord[:i]...)
	for j := k; j >= i; j-- {
		dst = append(dst, ord[j])
	}
	return append(dst, ord[k+1:]...)
}

// improveRoute2Opt applies first-improvement 2-opt to vehicle v's route
// until no reversal shortens it. Load is unchanged and the distance only
// falls, so the route stays feasible.
func (p *Plan) improveRoute2Opt(v int) bool {
	r := p.routes[v]
	if len(r) < 3 {
		return false
	}
	best := slices.Clone(r)
	bestDist := p.dist[v]
	var cand []int
	changed := false
	for improved := true; improved; {
		improved = false
		for i := 0; i < len(best)-1; i++ {
			for k := i + 1; k < len(best); k++ {
				cand = twoOptSwapInto(cand, best, i, k)
				if d := p.c.RouteDistance(cand); d < bestDist {
					best, cand = cand, best
					bestDist = d
					improved, changed = true, true
				}
			}
		}
	}
	if changed {
		p.SetRoute(v, best)
	}
	return changed
}

// polish runs 2-opt over every route.
func (p *Plan) polish() {
	for v := range p.routes {
		p.improveRoute2Opt(v)
	}
}

// removeNodes drops the given nodes from whichever routes hold them.
func (p *Plan) removeNodes(nodes []int) {
	if len(nodes) == 0 {
		return
	}
	drop := make(map[int]bool, len(nodes))
	for _, x := range nodes {
		drop[x] = true
	}
	for v, r := range p.routes {
		kept := r[:0:0]
		for _, x := range r {
			if !drop[x] {
				kept = append(kept, x)
			}
		}
		if len(kept) != len(r) {
			p.SetRoute(v, kept)
		}
	}
}

func (p *Plan) assigned() []int {
	var out []int
	for _, r := range p.routes {
		out = append(out, r...)
	}
	return out
}

// pickRandomNodes chooses up to k routed nodes uniformly.
func pickRandomNodes(p *Plan, k int, rng *rand.Rand) []int {
	all := p.assigned()
	slices.Sort(all)
	var removed []int
	for i := 0; i < k && len(all) > 0; i++ {
		j := rng.Intn(len(all))
		removed = append(removed, all[j])
		all = slices.Delete(all, j, j+1)
	}
	return removed
}

// relatedRemoval picks a random seed node and the k-1 routed nodes closest
// to it in round-trip travel cost.
func relatedRemoval(p *Plan, k int, rng *rand.Rand) []int {
	all := p.assigned()
	if len(all) == 0 {
		return nil
	}
	slices.Sort(all)
	seed := all[rng.Intn(len(all))]
	d := p.c.p.dist
	type pair struct {
		idx   int
		score int64
	}
	rel := make([]pair, 0, len(all)-1)
	for _, x := range all {
		if x != seed {
			rel = append(rel, pair{idx: x, score: d[seed][x] + d[x][seed]})
		}
	}
	slices.SortStableFunc(rel, func(a, b pair) int {
		switch {
		case a.score < b.score:
			return -1
		case a.score > b.score:
			return 1
		}
		return a.idx - b.idx
	})
	removed := []int{seed}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].idx)
	}
	return removed
}

// greedyRepair reinserts nodes cheapest-first. It reports false if any
// node has no feasible position.
func (p *Plan) greedyRepair(nodes []int) bool {
	pending := slices.Clone(nodes)
	slices.Sort(pending)
	for len(pending) > 0 {
		best, at := noInsertion(), -1
		for k, x := range pending {
			cand, _ := p.bestInsertions(x)
			if !cand.ok() {
				return false
			}
			if cand.before(best) {
				best, at = cand, k
			}
		}
		p.apply(best)
		pending = slices.Delete(pending, at, at+1)
	}
	return true
}

// regretRepair reinserts first the node that would lose the most by not
// getting its best position now (regret-2). A node with a single feasible
// position has unbounded regret.
func (p *Plan) regretRepair(nodes []int) bool {
	pending := slices.Clone(nodes)
	slices.Sort(pending)
	for len(pending) > 0 {
		best, at := noInsertion(), -1
		bestRegret := -1.0
		for k, x := range pending {
			first, second := p.bestInsertions(x)
			if !first.ok() {
				return false
			}
			regret := math.Inf(1)
			if second.ok() {
				regret = second.obj - first.obj
			}
			better := false
			switch {
			case !best.ok():
				better = true
			case math.IsInf(regret, 1) && math.IsInf(bestRegret, 1):
				better = first.before(best)
			case regret > bestRegret+eps:
				better = true
			case regret >= bestRegret-eps:
				better = first.before(best)
			}
			if better {
				best, at, bestRegret = first, k, regret
			}
		}
		p.apply(best)
		pending = slices.Delete(pending, at, at+1)
	}
	return true
}

// selectOp spins a roulette wheel over weights.
func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
