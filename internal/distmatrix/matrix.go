// Package distmatrix assembles dense travel-cost matrices from an oracle
// that only answers small origin/destination batches.
package distmatrix

import (
	"errors"
	"fmt"
)

// Matrix is a dense, directional travel-cost table: m[i][j] is the cost of
// travelling from node i to node j. Costs are integral (meters for the
// road-network oracles).
type Matrix [][]int64

// unset marks cells the builder has not filled yet.
const unset int64 = -1

func newUnsetMatrix(n int) Matrix {
	m := make(Matrix, n)
	cells := make([]int64, n*n)
	for i := range cells {
		cells[i] = unset
	}
	for i := range m {
		m[i] = cells[i*n : (i+1)*n : (i+1)*n]
	}
	return m
}

// Size is the number of nodes.
func (m Matrix) Size() int { return len(m) }

// At returns the cost from i to j.
func (m Matrix) At(i, j int) int64 { return m[i][j] }

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]int64(nil), row...)
	}
	return out
}

// Validate checks that m is square, fully populated, non-negative and has a
// zero diagonal.
func (m Matrix) Validate() error {
	n := len(m)
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("matrix: row %d has %d columns, want %d", i, len(row), n)
		}
		for j, v := range row {
			if v < 0 {
				return fmt.Errorf("matrix: cell (%d,%d) is unset or negative: %d", i, j, v)
			}
		}
		if row[i] != 0 {
			return fmt.Errorf("matrix: diagonal cell (%d,%d) = %d, want 0", i, i, row[i])
		}
	}
	return nil
}

// DistanceQueryError reports a failed or malformed oracle batch. Chunk
// indices are zero-based positions in the batch partition.
type DistanceQueryError struct {
	OriginChunk      int
	DestinationChunk int
	Err              error
}

func (e *DistanceQueryError) Error() string {
	return fmt.Sprintf("distance query chunk (%d,%d): %v", e.OriginChunk, e.DestinationChunk, e.Err)
}

func (e *DistanceQueryError) Unwrap() error { return e.Err }

// ErrMalformedBatch is wrapped by DistanceQueryError when the oracle reply
// does not match the requested batch shape or contains invalid costs.
var ErrMalformedBatch = errors.New("malformed oracle batch")
