package opt

import (
	"context"
	"fmt"
	"slices"
)

// Savings is the Clarke-Wright constructor. Every delivery starts on its
// own depot round trip; trips are merged end-to-start in decreasing order
// of m[i][0] + m[0][j] - m[i][j] while both dimensions allow, and the
// merged trips are handed to vehicles heaviest first, each to the smallest
// vehicle that can carry it. Trips left without a vehicle are dissolved and
// their nodes inserted cheapest-first.
type Savings struct{}

func (Savings) Name() string { return "savings" }

type saving struct {
	i, j  int
	value int64
}

func (Savings) Construct(ctx context.Context, c *Constraints) (*Plan, error) {
	n := c.p.NumNodes()
	p := NewPlan(c)
	if n <= 1 {
		return p, nil
	}
	if c.p.totalDemand > c.p.totalCapacity {
		all := make([]int, 0, n-1)
		for i := 1; i < n; i++ {
			all = append(all, i)
		}
		return nil, c.noSolution(all)
	}

	d := c.p.dist
	trips := make(map[int][]int, n-1) // trip id (its first node at creation) -> nodes
	tripOf := make([]int, n)
	for i := 1; i < n; i++ {
		trips[i] = []int{i}
		tripOf[i] = i
	}

	var list []saving
	for i := 1; i < n; i++ {
		for j := 1; j < n; j++ {
			if i == j {
				continue
			}
			if s := d[i][0] + d[0][j] - d[i][j]; s > 0 {
				list = append(list, saving{i: i, j: j, value: s})
			}
		}
	}
	slices.SortStableFunc(list, func(a, b saving) int {
		switch {
		case a.value > b.value:
			return -1
		case a.value < b.value:
			return 1
		}
		return 0
	})

	maxCap := c.p.maxCapacity
	for _, s := range list {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("savings: %w", err)
		}
		ti, tj := tripOf[s.i], tripOf[s.j]
		if ti == tj {
			continue
		}
		a, b := trips[ti], trips[tj]
		if a[len(a)-1] != s.i || b[0] != s.j {
			continue
		}
		merged := append(slices.Clone(a), b...)
		if c.RouteLoad(merged) > maxCap || !c.DistanceOK(c.RouteDistance(merged)) {
			continue
		}
		trips[ti] = merged
		delete(trips, tj)
		for _, x := range b {
			tripOf[x] = ti
		}
	}

	type trip struct {
		nodes []int
		load  int
	}
	ordered := make([]trip, 0, len(trips))
	for _, nodes := range trips {
		ordered = append(ordered, trip{nodes: nodes, load: c.RouteLoad(nodes)})
	}
	slices.SortFunc(ordered, func(a, b trip) int {
		if a.load != b.load {
			return b.load - a.load
		}
		return a.nodes[0] - b.nodes[0]
	})

	var leftover []int
	used := make([]bool, c.p.NumVehicles())
	for _, t := range ordered {
		fit := -1
		for v := range used {
			if used[v] || !c.CapacityOK(v, t.load) || !c.DistanceOK(c.RouteDistance(t.nodes)) {
				continue
			}
			if fit < 0 || c.p.capacity[v] < c.p.capacity[fit] {
				fit = v
			}
		}
		if fit < 0 {
			leftover = append(leftover, t.nodes...)
			continue
		}
		used[fit] = true
		p.SetRoute(fit, t.nodes)
	}
	if len(leftover) == 0 {
		return p, nil
	}

	unplaced, err := p.insertCheapest(ctx, leftover)
	if err != nil {
		return nil, fmt.Errorf("savings: %w", err)
	}
	if len(unplaced) > 0 {
		// Fall back to a clean construction before declaring failure.
		return CheapestInsertion{}.Construct(ctx, c)
	}
	return p, nil
}
