package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestRunWithMatrix(t *testing.T) {
	path := writeFile(t, "inst.yaml", `
capacities: [2, 2]
strategy: savings
timeLimit: 100ms
distanceBound: 0
locations:
  - {address: Depot, lat: 0, lng: 0, depot: true}
  - {address: A, lat: 0, lng: 0, demand: 1}
  - {address: B, lat: 0, lng: 0, demand: 1}
  - {address: C, lat: 0, lng: 0, demand: 1}
matrix:
  - [0, 10, 10, 10]
  - [10, 0, 5, 5]
  - [10, 5, 0, 5]
  - [10, 5, 5, 0]
`)
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-instance", path}, &stdout, &stderr), stderr.String())

	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "savings", out.Strategy)
	require.Len(t, out.Routes, 2)
	visited := 0
	for _, r := range out.Routes {
		assert.LessOrEqual(t, r.Load, 2)
		visited += len(r.Nodes) - 2
		assert.Equal(t, "Depot", r.Addresses[0])
	}
	assert.Equal(t, 3, visited)
}

func TestRunCSVComputesDistances(t *testing.T) {
	path := writeFile(t, "stops.csv", "address,demand,lat,lng,depot\nHub,0,40.0,-75.0,true\nA,2,40.01,-75.0,\nB,3,40.0,-75.01,\n")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-csv", path, "-capacities", "5,5", "-time-limit", "50ms"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out.Routes, 2)
	assert.Positive(t, out.TotalDistance)
}

func TestRunErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, run(context.Background(), nil, &stdout, &stderr))

	noCoords := writeFile(t, "bad.csv", "address,demand\nHub,0\n")
	assert.ErrorContains(t, run(context.Background(), []string{"-csv", noCoords}, &stdout, &stderr), "lat and lng")

	noDepot := writeFile(t, "nodepot.yaml", "locations:\n  - {address: A, lat: 1, lng: 1, demand: 1}\n")
	assert.ErrorContains(t, run(context.Background(), []string{"-instance", noDepot}, &stdout, &stderr), "depot")
}
