package opt

import "fmt"

// Assignment is the successor form of a solution. First[v] is the first
// delivery of vehicle v (0 when unused); Next[i] follows delivery i, with 0
// meaning the vehicle returns to the depot. Next[0] is unused.
type Assignment struct {
	First []int `json:"first"`
	Next  []int `json:"next"`
}

// Route is one vehicle's closed tour; Nodes starts and ends at the depot.
type Route struct {
	VehicleID string `json:"vehicleId"`
	Nodes     []int  `json:"nodes"`
	Distance  int64  `json:"distance"`
	Load      int    `json:"load"`
	Capacity  int    `json:"capacity"`
}

// Used reports whether the vehicle visits any delivery.
func (r Route) Used() bool { return len(r.Nodes) > 2 }

// Solution is a complete feasible routing.
type Solution struct {
	Routes           []Route     `json:"routes"`
	TotalDistance    int64       `json:"totalDistance"`
	MaxRouteDistance int64       `json:"maxRouteDistance"`
	Objective        float64     `json:"objective"`
	Strategy         string      `json:"strategy"`
	Stats            SearchStats `json:"stats"`
	Nodes            []Location  `json:"nodes"`
}

// RouteMap maps vehicle ID to its ordered node indices.
func (s *Solution) RouteMap() map[string][]int {
	out := make(map[string][]int, len(s.Routes))
	for _, r := range s.Routes {
		out[r.VehicleID] = append([]int(nil), r.Nodes...)
	}
	return out
}

// RouteAddresses lists the addresses vehicleID visits, depot at both ends.
// It returns nil for an unknown vehicle.
func (s *Solution) RouteAddresses(vehicleID string) []string {
	for _, r := range s.Routes {
		if r.VehicleID != vehicleID {
			continue
		}
		out := make([]string, len(r.Nodes))
		for k, n := range r.Nodes {
			out[k] = s.Nodes[n].Address
		}
		return out
	}
	return nil
}

// Extract walks an assignment into per-vehicle routes and aggregates.
// Route distance and load come from the dimensions' cumulative values at
// the closing depot. Cycles, repeated or missing deliveries, out-of-range
// successors and constraint violations are rejected.
func Extract(c *Constraints, a *Assignment) (*Solution, error) {
	p := c.p
	n, nv := p.NumNodes(), p.NumVehicles()
	if a == nil || len(a.First) != nv || len(a.Next) != n {
		return nil, fmt.Errorf("%w: shape does not match %d vehicles and %d nodes", ErrInvalidAssignment, nv, n)
	}

	visited := make([]bool, n)
	sol := &Solution{Routes: make([]Route, nv), Nodes: p.Nodes()}
	for v := 0; v < nv; v++ {
		nodes := []int{0}
		for x := a.First[v]; x != 0; x = a.Next[x] {
			if x < 0 || x >= n {
				return nil, fmt.Errorf("%w: vehicle %d reaches node %d out of range", ErrInvalidAssignment, v, x)
			}
			if visited[x] {
				return nil, fmt.Errorf("%w: node %d visited twice (vehicle %d)", ErrInvalidAssignment, x, v)
			}
			visited[x] = true
			nodes = append(nodes, x)
		}
		nodes = append(nodes, 0)

		dist, load, ok := c.Cumuls(v, nodes)
		if !ok {
			return nil, fmt.Errorf("%w: vehicle %d route %v breaks capacity or distance limits", ErrInvalidAssignment, v, nodes)
		}
		last := len(nodes) - 1
		sol.Routes[v] = Route{
			VehicleID: p.Vehicle(v).ID,
			Nodes:     nodes,
			Distance:  dist[last],
			Load:      load[last],
			Capacity:  p.Capacity(v),
		}
		sol.TotalDistance += dist[last]
		sol.MaxRouteDistance = max(sol.MaxRouteDistance, dist[last])
	}
	for i := 1; i < n; i++ {
		if !visited[i] {
			return nil, fmt.Errorf("%w: node %d is not on any route", ErrInvalidAssignment, i)
		}
	}
	sol.Objective = c.Objective(sol.TotalDistance, sol.MaxRouteDistance)
	return sol, nil
}
