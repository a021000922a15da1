package opt

import (
	"fmt"
	"strconv"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/geo"
)

// Location is a routing node. Exactly one location in an instance is the
// depot; the rest are deliveries.
type Location struct {
	ID             string `json:"id,omitempty" yaml:"id,omitempty"`
	Address        string `json:"address,omitempty" yaml:"address,omitempty"`
	geo.Coordinate `yaml:",inline"`
	Demand         int  `json:"demand" yaml:"demand"`
	Depot          bool `json:"depot,omitempty" yaml:"depot,omitempty"`
}

// Vehicle is one member of the fleet. Vehicles are identified by position.
type Vehicle struct {
	ID       string `json:"id" yaml:"id"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// Fleet builds vehicles "1".."V" from a capacity list.
func Fleet(capacities []int) []Vehicle {
	out := make([]Vehicle, len(capacities))
	for i, c := range capacities {
		out[i] = Vehicle{ID: strconv.Itoa(i + 1), Capacity: c}
	}
	return out
}

// Instance is a validated node list and fleet without travel costs. The
// depot is always node 0; deliveries keep their relative input order.
type Instance struct {
	nodes    []Location
	vehicles []Vehicle
}

// NewInstance validates locations and builds the fleet from capacities.
func NewInstance(locations []Location, capacities []int) (*Instance, error) {
	return NewInstanceWithFleet(locations, Fleet(capacities))
}

// NewInstanceWithFleet is NewInstance with explicit vehicle IDs. Vehicles
// with an empty ID get their 1-based position.
func NewInstanceWithFleet(locations []Location, vehicles []Vehicle) (*Instance, error) {
	if len(vehicles) == 0 {
		return nil, configErrorf("fleet has no vehicles")
	}
	maxCap := 0
	fleet := make([]Vehicle, len(vehicles))
	for i, v := range vehicles {
		if v.Capacity <= 0 {
			return nil, configErrorf("vehicle %d has non-positive capacity %d", i+1, v.Capacity)
		}
		if v.ID == "" {
			v.ID = strconv.Itoa(i + 1)
		}
		fleet[i] = v
		maxCap = max(maxCap, v.Capacity)
	}

	depot := -1
	for i, l := range locations {
		if !l.Depot {
			continue
		}
		if depot >= 0 {
			return nil, configErrorf("more than one depot (locations %d and %d)", depot, i)
		}
		depot = i
	}
	if depot < 0 {
		return nil, configErrorf("no depot among %d locations", len(locations))
	}

	nodes := make([]Location, 0, len(locations))
	d := locations[depot]
	d.Demand = 0
	nodes = append(nodes, d)
	for i, l := range locations {
		if i == depot {
			continue
		}
		if l.Demand < 0 {
			return nil, configErrorf("location %s has negative demand %d", label(l, i), l.Demand)
		}
		if l.Demand > maxCap {
			return nil, configErrorf("location %s demand %d exceeds the largest vehicle capacity %d", label(l, i), l.Demand, maxCap)
		}
		nodes = append(nodes, l)
	}
	return &Instance{nodes: nodes, vehicles: fleet}, nil
}

func label(l Location, i int) string {
	if l.ID != "" {
		return strconv.Quote(l.ID)
	}
	if l.Address != "" {
		return strconv.Quote(l.Address)
	}
	return "#" + strconv.Itoa(i)
}

// NumNodes counts the depot and all deliveries.
func (in *Instance) NumNodes() int { return len(in.nodes) }

// NumVehicles is the fleet size.
func (in *Instance) NumVehicles() int { return len(in.vehicles) }

// Nodes returns a copy of the depot-first node list.
func (in *Instance) Nodes() []Location { return append([]Location(nil), in.nodes...) }

// Vehicles returns a copy of the fleet.
func (in *Instance) Vehicles() []Vehicle { return append([]Vehicle(nil), in.vehicles...) }

// Coordinates lists node coordinates in node-index order, ready for the
// matrix builder.
func (in *Instance) Coordinates() []geo.Coordinate {
	out := make([]geo.Coordinate, len(in.nodes))
	for i, n := range in.nodes {
		out[i] = n.Coordinate
	}
	return out
}

// WithMatrix attaches travel costs indexed like Nodes. The matrix is copied.
func (in *Instance) WithMatrix(m distmatrix.Matrix) (*Problem, error) {
	if m.Size() != len(in.nodes) {
		return nil, configErrorf("distance matrix has %d rows for %d nodes", m.Size(), len(in.nodes))
	}
	if err := m.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	p := &Problem{
		in:       in,
		dist:     m.Clone(),
		demand:   make([]int, len(in.nodes)),
		capacity: make([]int, len(in.vehicles)),
	}
	for i, n := range in.nodes {
		if i > 0 {
			p.demand[i] = n.Demand
			p.totalDemand += n.Demand
		}
	}
	for v, veh := range in.vehicles {
		p.capacity[v] = veh.Capacity
		p.totalCapacity += veh.Capacity
		p.maxCapacity = max(p.maxCapacity, veh.Capacity)
	}
	return p, nil
}

// Problem is an immutable CVRP instance: node 0 is the depot, demand[0] is
// zero and the matrix is N×N.
type Problem struct {
	in            *Instance
	dist          distmatrix.Matrix
	demand        []int
	capacity      []int
	totalDemand   int
	totalCapacity int
	maxCapacity   int
}

// NumNodes counts the depot and all deliveries.
func (p *Problem) NumNodes() int { return len(p.demand) }

// NumVehicles is the fleet size.
func (p *Problem) NumVehicles() int { return len(p.capacity) }

// Distance is the travel cost from node i to node j.
func (p *Problem) Distance(i, j int) int64 { return p.dist[i][j] }

// Demand of node i; zero for the depot.
func (p *Problem) Demand(i int) int { return p.demand[i] }

// Capacity of vehicle v.
func (p *Problem) Capacity(v int) int { return p.capacity[v] }

// Vehicle returns fleet member v.
func (p *Problem) Vehicle(v int) Vehicle { return p.in.vehicles[v] }

// Node returns location i.
func (p *Problem) Node(i int) Location { return p.in.nodes[i] }

// Nodes returns a copy of the node list.
func (p *Problem) Nodes() []Location { return p.in.Nodes() }

// TotalDemand sums delivery demand.
func (p *Problem) TotalDemand() int { return p.totalDemand }

// TotalCapacity sums fleet capacity.
func (p *Problem) TotalCapacity() int { return p.totalCapacity }

// MaxCapacity is the largest single vehicle capacity.
func (p *Problem) MaxCapacity() int { return p.maxCapacity }

func (p *Problem) String() string {
	return fmt.Sprintf("problem(nodes=%d vehicles=%d demand=%d capacity=%d)",
		p.NumNodes(), p.NumVehicles(), p.totalDemand, p.totalCapacity)
}
