package opt

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an instance that is invalid before any search:
// a missing or duplicated depot, an empty fleet, a non-positive capacity, a
// negative demand, a delivery no single vehicle can carry, or a matrix that
// does not fit the node list.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "invalid routing problem: " + e.Reason }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NoSolutionError reports that no assignment satisfies both capacity and
// distance limits. Unplaced lists the node indices the search could not
// route.
type NoSolutionError struct {
	Unplaced      []int
	TotalDemand   int
	TotalCapacity int
}

func (e *NoSolutionError) Error() string {
	return fmt.Sprintf("no feasible routing: %d delivery node(s) unplaced (total demand %d, total capacity %d)",
		len(e.Unplaced), e.TotalDemand, e.TotalCapacity)
}

// ErrInvalidAssignment is wrapped by Extract when an assignment does not
// describe one route per vehicle covering every delivery exactly once.
var ErrInvalidAssignment = errors.New("invalid assignment")
