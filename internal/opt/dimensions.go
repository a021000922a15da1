package opt

import "math"

const (
	// DefaultDistanceBound caps the closed-route distance of one vehicle.
	DefaultDistanceBound int64 = 100000
	// DefaultSpanCoefficient weights the longest route in the objective.
	DefaultSpanCoefficient = 100.0
)

// objective comparisons tolerate float noise from the span coefficient.
const eps = 1e-6

// DistanceDimension configures the cumulative distance dimension. A Bound
// of zero or less leaves route length unbounded.
type DistanceDimension struct {
	Bound           int64   `json:"bound" yaml:"bound"`
	SpanCoefficient float64 `json:"spanCoefficient" yaml:"spanCoefficient"`
}

// Constraints evaluates the two cumulative dimensions over a Problem.
// Distance accumulates arc costs from the depot and back; load accumulates
// demand. Both are hard limits: the search only materializes routes for
// which FeasibleRoute holds.
type Constraints struct {
	p   *Problem
	dim DistanceDimension
}

// NewConstraints binds the dimensions to p.
func NewConstraints(p *Problem, dim DistanceDimension) *Constraints {
	if dim.SpanCoefficient < 0 || math.IsNaN(dim.SpanCoefficient) {
		dim.SpanCoefficient = 0
	}
	return &Constraints{p: p, dim: dim}
}

// Problem returns the bound problem.
func (c *Constraints) Problem() *Problem { return c.p }

// Dimension returns the distance settings in effect.
func (c *Constraints) Dimension() DistanceDimension { return c.dim }

// RouteDistance is the closed-route distance depot → route... → depot for
// a list of delivery nodes.
func (c *Constraints) RouteDistance(route []int) int64 {
	if len(route) == 0 {
		return 0
	}
	d := c.p.dist
	total := d[0][route[0]]
	for k := 1; k < len(route); k++ {
		total += d[route[k-1]][route[k]]
	}
	return total + d[route[len(route)-1]][0]
}

// RouteLoad sums demand over a list of delivery nodes.
func (c *Constraints) RouteLoad(route []int) int {
	load := 0
	for _, n := range route {
		load += c.p.demand[n]
	}
	return load
}

// DistanceOK reports whether a closed-route distance respects the bound.
func (c *Constraints) DistanceOK(d int64) bool {
	return c.dim.Bound <= 0 || d <= c.dim.Bound
}

// CapacityOK reports whether vehicle v can carry load.
func (c *Constraints) CapacityOK(v, load int) bool {
	return load <= c.p.capacity[v]
}

// FeasibleRoute checks both dimensions for vehicle v driving route.
func (c *Constraints) FeasibleRoute(v int, route []int) bool {
	return c.CapacityOK(v, c.RouteLoad(route)) && c.DistanceOK(c.RouteDistance(route))
}

// Objective combines total distance with the span penalty on the longest
// route.
func (c *Constraints) Objective(total, longest int64) float64 {
	return float64(total) + c.dim.SpanCoefficient*float64(longest)
}

// Cumuls walks a closed route (nodes[0] and the last node are the depot)
// and returns the cumulative distance and load on arrival at each stop.
// ok is false if any prefix breaks vehicle v's capacity or the final
// distance breaks the bound.
func (c *Constraints) Cumuls(v int, nodes []int) (dist []int64, load []int, ok bool) {
	dist = make([]int64, len(nodes))
	load = make([]int, len(nodes))
	ok = true
	for k := 1; k < len(nodes); k++ {
		dist[k] = dist[k-1] + c.p.dist[nodes[k-1]][nodes[k]]
		load[k] = load[k-1] + c.p.demand[nodes[k]]
		if load[k] > c.p.capacity[v] {
			ok = false
		}
	}
	if len(nodes) > 0 && !c.DistanceOK(dist[len(nodes)-1]) {
		ok = false
	}
	return dist, load, ok
}

func (c *Constraints) noSolution(unplaced []int) *NoSolutionError {
	return &NoSolutionError{
		Unplaced:      append([]int(nil), unplaced...),
		TotalDemand:   c.p.totalDemand,
		TotalCapacity: c.p.totalCapacity,
	}
}
