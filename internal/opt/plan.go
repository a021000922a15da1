package opt

import "slices"

// Plan is a working solution: an ordered list of delivery nodes per vehicle
// with the depot implicit at both ends. Route distances and loads are kept
// in step with the routes.
type Plan struct {
	c      *Constraints
	routes [][]int
	dist   []int64
	load   []int
	total  int64
}

// NewPlan returns a plan with every vehicle unused.
func NewPlan(c *Constraints) *Plan {
	v := c.p.NumVehicles()
	return &Plan{
		c:      c,
		routes: make([][]int, v),
		dist:   make([]int64, v),
		load:   make([]int, v),
	}
}

// Clone deep-copies the plan.
func (p *Plan) Clone() *Plan {
	out := &Plan{
		c:      p.c,
		routes: make([][]int, len(p.routes)),
		dist:   slices.Clone(p.dist),
		load:   slices.Clone(p.load),
		total:  p.total,
	}
	for v, r := range p.routes {
		out.routes[v] = slices.Clone(r)
	}
	return out
}

// Routes returns a copy of the per-vehicle delivery sequences.
func (p *Plan) Routes() [][]int {
	out := make([][]int, len(p.routes))
	for v, r := range p.routes {
		out[v] = slices.Clone(r)
	}
	return out
}

// SetRoute replaces vehicle v's route. It does not check feasibility.
func (p *Plan) SetRoute(v int, route []int) {
	p.routes[v] = route
	d := p.c.RouteDistance(route)
	p.total += d - p.dist[v]
	p.dist[v] = d
	p.load[v] = p.c.RouteLoad(route)
}

// TotalDistance sums closed-route distances.
func (p *Plan) TotalDistance() int64 { return p.total }

// MaxDistance is the longest closed-route distance.
func (p *Plan) MaxDistance() int64 { return p.maxExcept(-1, -1) }

// Objective is the value the search minimizes.
func (p *Plan) Objective() float64 { return p.c.Objective(p.total, p.MaxDistance()) }

// Feasible reports whether every route satisfies both dimensions.
func (p *Plan) Feasible() bool {
	for v := range p.routes {
		if !p.c.CapacityOK(v, p.load[v]) || !p.c.DistanceOK(p.dist[v]) {
			return false
		}
	}
	return true
}

// Unassigned lists delivery nodes missing from every route, ascending.
func (p *Plan) Unassigned() []int {
	n := p.c.p.NumNodes()
	seen := make([]bool, n)
	for _, r := range p.routes {
		for _, x := range r {
			seen[x] = true
		}
	}
	var out []int
	for i := 1; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}

// Assignment converts the plan into successor form.
func (p *Plan) Assignment() *Assignment {
	a := &Assignment{
		First: make([]int, len(p.routes)),
		Next:  make([]int, p.c.p.NumNodes()),
	}
	for v, r := range p.routes {
		if len(r) == 0 {
			continue
		}
		a.First[v] = r[0]
		for k := 0; k+1 < len(r); k++ {
			a.Next[r[k]] = r[k+1]
		}
		a.Next[r[len(r)-1]] = 0
	}
	return a
}

// maxExcept is the longest route distance ignoring vehicles a and b.
func (p *Plan) maxExcept(a, b int) int64 {
	var m int64
	for v, d := range p.dist {
		if v != a && v != b && d > m {
			m = d
		}
	}
	return m
}

// objectiveWith evaluates the plan as if vehicle a had route distance da
// and, when b >= 0, vehicle b had db.
func (p *Plan) objectiveWith(a int, da int64, b int, db int64) float64 {
	total := p.total - p.dist[a] + da
	longest := max(p.maxExcept(a, b), da)
	if b >= 0 {
		total += db - p.dist[b]
		longest = max(longest, db)
	}
	return p.c.Objective(total, longest)
}

// insertAt returns route with node placed before position pos.
func insertAt(route []int, node, pos int) []int {
	out := make([]int, 0, len(route)+1)
	out = append(out, route[:pos]...)
	out = append(out, node)
	return append(out, route[pos:]...)
}

// removeAt returns route without the element at pos.
func removeAt(route []int, pos int) []int {
	out := make([]int, 0, len(route))
	out = append(out, route[:pos]...)
	return append(out, route[pos+1:]...)
}

// insertionCost is the closed-route distance of route after putting node
// before pos, computed without materializing the route.
func (c *Constraints) insertionCost(route []int, cur int64, node, pos int) int64 {
	d := c.p.dist
	prev, next := 0, 0
	if pos > 0 {
		prev = route[pos-1]
	}
	if pos < len(route) {
		next = route[pos]
	}
	return cur - d[prev][next] + d[prev][node] + d[node][next]
}

// removalCost is the closed-route distance of route after dropping pos.
func (c *Constraints) removalCost(route []int, cur int64, pos int) int64 {
	d := c.p.dist
	prev, next := 0, 0
	if pos > 0 {
		prev = route[pos-1]
	}
	if pos+1 < len(route) {
		next = route[pos+1]
	}
	x := route[pos]
	return cur - d[prev][x] - d[x][next] + d[prev][next]
}
