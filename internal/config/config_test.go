package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{15, 20, 25, 10}, cfg.Optimizer.Capacities)
	assert.Equal(t, 10, cfg.Matrix.BatchSize)
	assert.EqualValues(t, 100000, cfg.Optimizer.DistanceBound)
	assert.Equal(t, 100.0, cfg.Optimizer.SpanCoefficient)
	assert.Equal(t, time.Second, cfg.Optimizer.TimeLimit)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
matrix:
  batchSize: 25
optimizer:
  strategy: alns
  timeLimit: 3s
  capacities: [5, 6]
offline:
  addresses:
    "1 Main St": {lat: 1.5, lng: 2.5}
`), 0o600))

	t.Setenv("MATRIX_CONCURRENCY", "8")
	t.Setenv("OPTIMIZER_STRATEGY", "savings")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.Matrix.BatchSize)
	assert.Equal(t, 8, cfg.Matrix.Concurrency)
	assert.Equal(t, "savings", cfg.Optimizer.Strategy)
	assert.Equal(t, 3*time.Second, cfg.Optimizer.TimeLimit)
	assert.Equal(t, []int{5, 6}, cfg.Optimizer.Capacities)
	assert.Equal(t, 1.5, cfg.Offline.Addresses["1 Main St"].Lat)
	assert.Equal(t, "off", cfg.Auth.Mode)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
}

func TestEnvErrorsAreReported(t *testing.T) {
	cfg := Default()
	env := map[string]string{"MATRIX_BATCH_SIZE": "ten", "OPTIMIZER_CAPACITIES": "1,x"}
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	assert.ErrorContains(t, err, "MATRIX_BATCH_SIZE")
	assert.ErrorContains(t, err, "OPTIMIZER_CAPACITIES")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Matrix.BatchSize = 0
	cfg.Optimizer.Strategy = "genetic"
	cfg.Optimizer.Capacities = []int{10, 0}
	cfg.Auth.Mode = "hmac"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"batchSize", "genetic", "capacities[1]", "hmacSecret"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestFleetCapacities(t *testing.T) {
	o := Default().Optimizer
	assert.Equal(t, []int{15, 20}, o.FleetCapacities(2))
	assert.Equal(t, []int{15, 20, 25, 10, 15, 20}, o.FleetCapacities(6))
	assert.Equal(t, []int{15, 20, 25, 10}, o.FleetCapacities(0))
}

func TestParseCapacities(t *testing.T) {
	caps, err := ParseCapacities(" 15, 20 ,25")
	require.NoError(t, err)
	assert.Equal(t, []int{15, 20, 25}, caps)
	_, err = ParseCapacities(",")
	assert.Error(t, err)
}

func TestORSRetrySettings(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.ORS.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.ORS.Timeout)

	env := map[string]string{"ORS_MAX_ATTEMPTS": "7", "ORS_TIMEOUT": "3s"}
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }))
	assert.Equal(t, 7, cfg.ORS.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.ORS.Timeout)

	cfg.ORS.MaxAttempts = -1
	assert.ErrorContains(t, cfg.Validate(), "ors.maxAttempts")
}
