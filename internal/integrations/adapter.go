package integrations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetroute/internal/distmatrix"
	"fleetroute/internal/geo"
)

// Resolver turns a street address into a coordinate.
type Resolver interface {
	Resolve(ctx context.Context, address string) (geo.Coordinate, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, address string) (geo.Coordinate, error)

func (f ResolverFunc) Resolve(ctx context.Context, address string) (geo.Coordinate, error) {
	return f(ctx, address)
}

// Provider is a location-data vendor that can both geocode and answer
// travel-cost batches.
type Provider interface {
	Name() string
	Resolver
	distmatrix.Oracle
}

// ErrNoMatch is wrapped by ResolveError when the geocoder has no result.
var ErrNoMatch = errors.New("no geocoding match")

// ResolveError reports a failed address lookup.
type ResolveError struct {
	Address string
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Address, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// NormalizeAddress collapses whitespace so lookups and cache keys agree.
func NormalizeAddress(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DeliveryRecord is one delivery as an external source describes it.
// Coordinate is nil when the source only knows the address.
type DeliveryRecord struct {
	Address    string
	Demand     int
	Coordinate *geo.Coordinate
	Depot      bool
}

// DeliverySource yields delivery records from an external feed such as an
// uploaded file.
type DeliverySource interface {
	Name() string
	FetchDeliveries(ctx context.Context) ([]DeliveryRecord, error)
}
