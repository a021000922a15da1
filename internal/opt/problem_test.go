package opt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/geo"
)

func TestNewInstanceRejectsBadConfiguration(t *testing.T) {
	depot := Location{ID: "d", Depot: true}
	cases := []struct {
		name       string
		locations  []Location
		capacities []int
	}{
		{"no depot", []Location{{ID: "a", Demand: 1}}, []int{10}},
		{"two depots", []Location{depot, {ID: "d2", Depot: true}}, []int{10}},
		{"no vehicles", []Location{depot, {ID: "a", Demand: 1}}, nil},
		{"zero capacity", []Location{depot, {ID: "a", Demand: 1}}, []int{10, 0}},
		{"negative demand", []Location{depot, {ID: "a", Demand: -1}}, []int{10}},
		// A single delivery heavier than any vehicle is a configuration
		// problem, not a failed search.
		{"demand above every capacity", []Location{depot, {ID: "a", Demand: 11}}, []int{10, 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewInstance(tc.locations, tc.capacities)
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.NotEmpty(t, ce.Reason)
		})
	}
}

func TestNewInstanceMovesDepotFirst(t *testing.T) {
	in, err := NewInstance([]Location{
		{ID: "a", Demand: 2, Coordinate: geo.Coordinate{Lat: 1}},
		{ID: "depot", Depot: true, Demand: 9, Coordinate: geo.Coordinate{Lat: 0}},
		{ID: "b", Demand: 3, Coordinate: geo.Coordinate{Lat: 2}},
	}, []int{5, 7})
	require.NoError(t, err)

	nodes := in.Nodes()
	assert.Equal(t, []string{"depot", "a", "b"}, []string{nodes[0].ID, nodes[1].ID, nodes[2].ID})
	assert.Zero(t, nodes[0].Demand)
	assert.Equal(t, []geo.Coordinate{{Lat: 0}, {Lat: 1}, {Lat: 2}}, in.Coordinates())
	assert.Equal(t, []Vehicle{{ID: "1", Capacity: 5}, {ID: "2", Capacity: 7}}, in.Vehicles())
}

func TestWithMatrixChecksDimension(t *testing.T) {
	in, err := NewInstance([]Location{{Depot: true}, {Demand: 1}}, []int{3})
	require.NoError(t, err)

	_, err = in.WithMatrix(distmatrix.Matrix{{0}})
	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)

	m := distmatrix.Matrix{{0, 4}, {5, 0}}
	p, err := in.WithMatrix(m)
	require.NoError(t, err)
	m[0][1] = 100
	assert.EqualValues(t, 4, p.Distance(0, 1), "problem must own its matrix")
	assert.Equal(t, 1, p.TotalDemand())
	assert.Equal(t, 3, p.MaxCapacity())
}

func TestCumuls(t *testing.T) {
	p := lineProblem(t, []int{0, 10, 20, -10}, []int{0, 2, 3, 4}, []int{5, 9})
	c := NewConstraints(p, DistanceDimension{Bound: 45})

	dist, load, ok := c.Cumuls(1, []int{0, 1, 2, 0})
	assert.True(t, ok)
	assert.Equal(t, []int64{0, 10, 20, 40}, dist)
	assert.Equal(t, []int{0, 2, 5, 5}, load)

	_, _, ok = c.Cumuls(0, []int{0, 1, 2, 3, 0}) // load 9 > 5
	assert.False(t, ok)

	_, _, ok = c.Cumuls(1, []int{0, 2, 3, 0}) // 20+30+10 > 45
	assert.False(t, ok)

	assert.True(t, NewConstraints(p, DistanceDimension{}).DistanceOK(1<<40), "zero bound is unbounded")
}
