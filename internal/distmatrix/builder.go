package distmatrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"fleetroute/internal/geo"
	"fleetroute/internal/metrics"
)

const (
	// DefaultBatchSize matches the per-request element limit of the hosted
	// distance-matrix APIs the service was first built against.
	DefaultBatchSize = 10
	// DefaultConcurrency bounds in-flight oracle calls.
	DefaultConcurrency = 4
)

// Oracle answers travel-cost queries for a batch of origins and
// destinations. The reply must be len(origins) rows of len(destinations)
// costs.
type Oracle interface {
	BatchCost(ctx context.Context, origins, destinations []geo.Coordinate) ([][]int64, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, origins, destinations []geo.Coordinate) ([][]int64, error)

func (f OracleFunc) BatchCost(ctx context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
	return f(ctx, origins, destinations)
}

// Chunk is a half-open index range [Start, End).
type Chunk struct {
	Start, End int
}

// Len is the number of indices in the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// Chunks partitions [0, n) into consecutive runs of at most size indices.
func Chunks(n, size int) []Chunk {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Chunk{Start: start, End: end})
	}
	return out
}

// Builder assembles a full matrix with one oracle call per chunk pair, so a
// list of N coordinates costs ceil(N/BatchSize)^2 calls.
type Builder struct {
	Oracle      Oracle
	BatchSize   int
	Concurrency int
	Log         logr.Logger
}

// NewBuilder returns a Builder with default batch size and concurrency.
func NewBuilder(oracle Oracle) *Builder {
	return &Builder{Oracle: oracle, BatchSize: DefaultBatchSize, Concurrency: DefaultConcurrency}
}

// BuildDistanceMatrix builds the matrix for coords with the given batch size
// and the default concurrency limit.
func BuildDistanceMatrix(ctx context.Context, oracle Oracle, coords []geo.Coordinate, batchSize int) (Matrix, error) {
	b := NewBuilder(oracle)
	b.BatchSize = batchSize
	return b.Build(ctx, coords)
}

// Build queries every chunk pair and returns the assembled matrix. Batches
// run concurrently up to Concurrency; the first failure cancels the rest and
// is returned as a *DistanceQueryError. A partially filled matrix is never
// returned.
func (b *Builder) Build(ctx context.Context, coords []geo.Coordinate) (Matrix, error) {
	if b.Oracle == nil {
		return nil, errors.New("build distance matrix: oracle is nil")
	}
	batch := b.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	limit := b.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	n := len(coords)
	if n == 0 {
		return Matrix{}, nil
	}

	start := time.Now()
	chunks := Chunks(n, batch)
	m := newUnsetMatrix(n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for oi, oc := range chunks {
		for di, dc := range chunks {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				origins := coords[oc.Start:oc.End]
				destinations := coords[dc.Start:dc.End]

				block, err := b.Oracle.BatchCost(gctx, origins, destinations)
				if err == nil {
					err = checkBlock(block, oc, dc)
				}
				if err != nil {
					metrics.OracleBatchCalls.WithLabelValues("error").Inc()
					return &DistanceQueryError{OriginChunk: oi, DestinationChunk: di, Err: err}
				}
				metrics.OracleBatchCalls.WithLabelValues("ok").Inc()

				// Blocks are disjoint, so goroutines never write the same cell.
				for r, row := range block {
					copy(m[oc.Start+r][dc.Start:dc.End], row)
				}
				b.Log.V(1).Info("oracle batch assembled", "originChunk", oi, "destinationChunk", di,
					"rows", oc.Len(), "cols", dc.Len())
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		var dq *DistanceQueryError
		if errors.As(err, &dq) {
			return nil, dq
		}
		return nil, fmt.Errorf("build distance matrix: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("build distance matrix: %w", err)
	}

	b.Log.Info("distance matrix built", "nodes", n, "batches", len(chunks)*len(chunks),
		"dur", time.Since(start).String())
	return m, nil
}

// checkBlock verifies the oracle reply matches the requested shape. The
// diagonal is pinned to zero: a node never costs anything to reach itself,
// whatever the oracle reports for identical coordinates.
func checkBlock(block [][]int64, oc, dc Chunk) error {
	if len(block) != oc.Len() {
		return fmt.Errorf("%w: got %d rows, want %d", ErrMalformedBatch, len(block), oc.Len())
	}
	for r, row := range block {
		if len(row) != dc.Len() {
			return fmt.Errorf("%w: row %d has %d elements, want %d", ErrMalformedBatch, r, len(row), dc.Len())
		}
		for c, v := range row {
			if v < 0 {
				return fmt.Errorf("%w: missing or negative cost at (%d,%d): %d", ErrMalformedBatch, oc.Start+r, dc.Start+c, v)
			}
		}
		if i := oc.Start + r; i >= dc.Start && i < dc.End {
			row[i-dc.Start] = 0
		}
	}
	return nil
}
