package distmatrix

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/geo"
)

// gridCoords returns n distinct points so each one is identifiable by Lat.
func gridCoords(n int) []geo.Coordinate {
	out := make([]geo.Coordinate, n)
	for i := range out {
		out[i] = geo.Coordinate{Lat: float64(i), Lng: float64(i) * 2}
	}
	return out
}

// manhattanOracle derives costs from the coordinates and counts calls.
type manhattanOracle struct {
	calls atomic.Int64
	fail  func(origins, destinations []geo.Coordinate) error
}

func (o *manhattanOracle) BatchCost(_ context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
	o.calls.Add(1)
	if o.fail != nil {
		if err := o.fail(origins, destinations); err != nil {
			return nil, err
		}
	}
	out := make([][]int64, len(origins))
	for i, a := range origins {
		out[i] = make([]int64, len(destinations))
		for j, b := range destinations {
			out[i][j] = int64(math.Abs(a.Lat-b.Lat)*100 + math.Abs(a.Lng-b.Lng)*10)
		}
	}
	return out, nil
}

func expectedCost(a, b geo.Coordinate) int64 {
	return int64(math.Abs(a.Lat-b.Lat)*100 + math.Abs(a.Lng-b.Lng)*10)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, []Chunk{{0, 10}, {10, 20}, {20, 25}}, Chunks(25, 10))
	assert.Equal(t, []Chunk{{0, 3}}, Chunks(3, 10))
	assert.Nil(t, Chunks(0, 10))
}

func TestBuildCallCountAndCompleteness(t *testing.T) {
	cases := []struct{ n, batch, calls int }{
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 4},
		{25, 10, 9},
		{7, 3, 9},
		{30, 5, 36},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d/b=%d", tc.n, tc.batch), func(t *testing.T) {
			coords := gridCoords(tc.n)
			oracle := &manhattanOracle{}
			m, err := BuildDistanceMatrix(context.Background(), oracle, coords, tc.batch)
			require.NoError(t, err)
			assert.EqualValues(t, tc.calls, oracle.calls.Load())
			require.Equal(t, tc.n, m.Size())
			require.NoError(t, m.Validate())
			for i := range coords {
				for j := range coords {
					assert.Equal(t, expectedCost(coords[i], coords[j]), m.At(i, j), "cell (%d,%d)", i, j)
				}
			}
		})
	}
}

// 25 locations, batch 10: the (2,1) chunk fails, nothing is returned.
func TestBuildChunkFailure(t *testing.T) {
	coords := gridCoords(25)
	boom := errors.New("upstream 503")
	oracle := &manhattanOracle{fail: func(origins, destinations []geo.Coordinate) error {
		if origins[0].Lat == 20 && destinations[0].Lat == 10 {
			return boom
		}
		return nil
	}}
	b := &Builder{Oracle: oracle, BatchSize: 10, Concurrency: 1}
	m, err := b.Build(context.Background(), coords)
	require.Error(t, err)
	assert.Nil(t, m)

	var dq *DistanceQueryError
	require.True(t, errors.As(err, &dq))
	assert.Equal(t, 2, dq.OriginChunk)
	assert.Equal(t, 1, dq.DestinationChunk)
	assert.ErrorIs(t, err, boom)
}

// peakOracle tracks the most calls in flight at once.
type peakOracle struct {
	manhattanOracle
	inFlight, peak atomic.Int64
}

func (o *peakOracle) BatchCost(ctx context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
	n := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return o.manhattanOracle.BatchCost(ctx, origins, destinations)
}

func TestBuildBoundsConcurrency(t *testing.T) {
	coords := gridCoords(25)
	oracle := &peakOracle{}
	b := &Builder{Oracle: oracle, BatchSize: 10, Concurrency: 3}
	m, err := b.Build(context.Background(), coords)
	require.NoError(t, err)
	require.Equal(t, 25, m.Size())
	assert.EqualValues(t, 9, oracle.calls.Load())
	assert.LessOrEqual(t, oracle.peak.Load(), int64(3))
	assert.GreaterOrEqual(t, oracle.peak.Load(), int64(1))
}

func TestBuildParallelChunkFailure(t *testing.T) {
	coords := gridCoords(25)
	boom := errors.New("boom")
	oracle := &peakOracle{}
	oracle.fail = func(origins, destinations []geo.Coordinate) error {
		if origins[0].Lat == 20 && destinations[0].Lat == 10 {
			return boom
		}
		return nil
	}
	b := &Builder{Oracle: oracle, BatchSize: 10, Concurrency: 3}
	m, err := b.Build(context.Background(), coords)
	assert.Nil(t, m)
	assert.LessOrEqual(t, oracle.peak.Load(), int64(3))

	var dq *DistanceQueryError
	require.ErrorAs(t, err, &dq)
	assert.Equal(t, 2, dq.OriginChunk)
	assert.Equal(t, 1, dq.DestinationChunk)
	assert.ErrorIs(t, err, boom)
}

func TestBuildRejectsMalformedBatch(t *testing.T) {
	short := OracleFunc(func(_ context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
		out := make([][]int64, len(origins))
		for i := range out {
			out[i] = make([]int64, len(destinations)-1)
		}
		return out, nil
	})
	_, err := BuildDistanceMatrix(context.Background(), short, gridCoords(4), 2)
	var dq *DistanceQueryError
	require.ErrorAs(t, err, &dq)
	assert.ErrorIs(t, err, ErrMalformedBatch)

	negative := OracleFunc(func(_ context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
		out := make([][]int64, len(origins))
		for i := range out {
			out[i] = make([]int64, len(destinations))
			out[i][0] = -5
		}
		return out, nil
	})
	_, err = BuildDistanceMatrix(context.Background(), negative, gridCoords(3), 10)
	assert.ErrorIs(t, err, ErrMalformedBatch)
}

func TestBuildForcesZeroDiagonal(t *testing.T) {
	constant := OracleFunc(func(_ context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
		out := make([][]int64, len(origins))
		for i := range out {
			out[i] = make([]int64, len(destinations))
			for j := range out[i] {
				out[i][j] = 7
			}
		}
		return out, nil
	})
	m, err := BuildDistanceMatrix(context.Background(), constant, gridCoords(5), 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Zero(t, m.At(i, i))
	}
	assert.EqualValues(t, 7, m.At(0, 4))
}

func TestBuildEmptyAndCancelled(t *testing.T) {
	oracle := &manhattanOracle{}
	m, err := BuildDistanceMatrix(context.Background(), oracle, nil, 10)
	require.NoError(t, err)
	assert.Zero(t, m.Size())
	assert.Zero(t, oracle.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BuildDistanceMatrix(ctx, oracle, gridCoords(3), 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatrixValidate(t *testing.T) {
	assert.NoError(t, Matrix{{0, 1}, {2, 0}}.Validate())
	assert.Error(t, Matrix{{0, 1}, {2}}.Validate())
	assert.Error(t, Matrix{{1, 1}, {2, 0}}.Validate())
	assert.Error(t, Matrix{{0, -1}, {2, 0}}.Validate())
}
