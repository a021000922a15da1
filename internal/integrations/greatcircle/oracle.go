// Package greatcircle is an offline location provider: travel cost is the
// great-circle distance scaled by a detour factor, and addresses resolve
// from a fixed table.
package greatcircle

import (
	"context"
	"math"
	"strings"
	"sync"

	"fleetroute/internal/geo"
	"fleetroute/internal/integrations"
)

// DefaultDetourFactor approximates road distance from straight-line
// distance in a street grid.
const DefaultDetourFactor = 1.3

// Oracle answers matrix batches without network access.
type Oracle struct {
	DetourFactor float64
}

func (o Oracle) BatchCost(ctx context.Context, origins, destinations []geo.Coordinate) ([][]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := o.DetourFactor
	if f <= 0 {
		f = DefaultDetourFactor
	}
	out := make([][]int64, len(origins))
	for i, a := range origins {
		out[i] = make([]int64, len(destinations))
		for j, b := range destinations {
			out[i][j] = int64(math.Round(geo.HaversineMeters(a, b) * f))
		}
	}
	return out, nil
}

// StaticResolver resolves addresses from an in-memory table keyed by
// normalized, case-folded address.
type StaticResolver struct {
	mu    sync.RWMutex
	table map[string]geo.Coordinate
}

// NewStaticResolver copies table.
func NewStaticResolver(table map[string]geo.Coordinate) *StaticResolver {
	r := &StaticResolver{table: make(map[string]geo.Coordinate, len(table))}
	for addr, c := range table {
		r.table[key(addr)] = c
	}
	return r
}

func key(addr string) string {
	return strings.ToLower(integrations.NormalizeAddress(addr))
}

// Add registers or replaces an address.
func (r *StaticResolver) Add(address string, c geo.Coordinate) {
	r.mu.Lock()
	r.table[key(address)] = c
	r.mu.Unlock()
}

func (r *StaticResolver) Resolve(_ context.Context, address string) (geo.Coordinate, error) {
	r.mu.RLock()
	c, ok := r.table[key(address)]
	r.mu.RUnlock()
	if !ok {
		return geo.Coordinate{}, &integrations.ResolveError{Address: address, Err: integrations.ErrNoMatch}
	}
	return c, nil
}

// Provider pairs the oracle with a static resolver.
type Provider struct {
	Oracle
	*StaticResolver
}

// NewProvider returns an offline provider.
func NewProvider(detour float64, table map[string]geo.Coordinate) *Provider {
	return &Provider{Oracle: Oracle{DetourFactor: detour}, StaticResolver: NewStaticResolver(table)}
}

func (p *Provider) Name() string { return "greatcircle" }

var _ integrations.Provider = (*Provider)(nil)
