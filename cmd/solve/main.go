// Command solve routes a single instance from a YAML/JSON or CSV file and
// prints the solution as JSON.
//
//	solve -instance stops.yaml
//	solve -csv stops.csv -capacities 15,20,25,10 -time-limit 2s
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"fleetroute/internal/config"
	"fleetroute/internal/distmatrix"
	"fleetroute/internal/integrations/csvfile"
	"fleetroute/internal/integrations/greatcircle"
	"fleetroute/internal/logging"
	"fleetroute/internal/opt"
)

// instanceFile is the on-disk instance. Matrix, when present, is indexed
// depot first and then deliveries in file order.
type instanceFile struct {
	Locations       []opt.Location    `yaml:"locations"`
	Capacities      []int             `yaml:"capacities"`
	Matrix          distmatrix.Matrix `yaml:"matrix"`
	Strategy        string            `yaml:"strategy"`
	TimeLimit       time.Duration     `yaml:"timeLimit"`
	DistanceBound   *int64            `yaml:"distanceBound"`
	SpanCoefficient *float64          `yaml:"spanCoefficient"`
	Seed            int64             `yaml:"seed"`
}

type output struct {
	Strategy         string     `json:"strategy"`
	Routes           []outRoute `json:"routes"`
	TotalDistance    int64      `json:"totalDistance"`
	MaxRouteDistance int64      `json:"maxRouteDistance"`
	Objective        float64    `json:"objective"`
	Iterations       int        `json:"iterations"`
	ElapsedMs        int64      `json:"elapsedMs"`
}

type outRoute struct {
	VehicleID string   `json:"vehicleId"`
	Nodes     []int    `json:"nodes"`
	Addresses []string `json:"addresses,omitempty"`
	Distance  int64    `json:"distance"`
	Load      int      `json:"load"`
	Capacity  int      `json:"capacity"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "solve:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		instancePath = fs.String("instance", "", "YAML or JSON instance file")
		csvPath      = fs.String("csv", "", "CSV file with address, demand, lat, lng and depot columns")
		capacities   = fs.String("capacities", "", "comma-separated vehicle capacities (overrides the file)")
		strategy     = fs.String("strategy", "", "search strategy: "+strings.Join(opt.Strategies(), ", "))
		timeLimit    = fs.Duration("time-limit", 0, "search budget")
		bound        = fs.Int64("bound", -1, "per-vehicle distance bound in meters; 0 disables it")
		span         = fs.Float64("span", -1, "span coefficient on the longest route")
		batch        = fs.Int("batch", 10, "locations per oracle request when computing distances")
		detour       = fs.Float64("detour", 1.3, "great-circle detour factor")
		seed         = fs.Int64("seed", 0, "random seed")
		verbosity    = fs.Int("v", 0, "log verbosity")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := logging.NewWithWriter(stderr, *verbosity)

	var in instanceFile
	switch {
	case *instancePath != "" && *csvPath != "":
		return errors.New("use either -instance or -csv")
	case *instancePath != "":
		b, err := os.ReadFile(*instancePath)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, &in); err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(*instancePath), err)
		}
	case *csvPath != "":
		locs, err := csvLocations(ctx, *csvPath)
		if err != nil {
			return err
		}
		in.Locations = locs
	default:
		fs.Usage()
		return errors.New("an -instance or -csv file is required")
	}

	if *capacities != "" {
		caps, err := config.ParseCapacities(*capacities)
		if err != nil {
			return err
		}
		in.Capacities = caps
	}
	if len(in.Capacities) == 0 {
		in.Capacities = config.Default().Optimizer.Capacities
	}

	sreq := opt.OptimizeRequest{
		Strategy:        in.Strategy,
		TimeLimit:       in.TimeLimit,
		DistanceBound:   opt.DefaultDistanceBound,
		SpanCoefficient: opt.DefaultSpanCoefficient,
		Options:         opt.StrategyOptions{Seed: in.Seed},
	}
	if in.DistanceBound != nil {
		sreq.DistanceBound = *in.DistanceBound
	}
	if in.SpanCoefficient != nil {
		sreq.SpanCoefficient = *in.SpanCoefficient
	}
	if *strategy != "" {
		sreq.Strategy = *strategy
	}
	if *timeLimit > 0 {
		sreq.TimeLimit = *timeLimit
	}
	if *bound >= 0 {
		sreq.DistanceBound = *bound
	}
	if *span >= 0 {
		sreq.SpanCoefficient = *span
	}
	if *seed != 0 {
		sreq.Options.Seed = *seed
	}

	inst, err := opt.NewInstance(in.Locations, in.Capacities)
	if err != nil {
		return err
	}
	m := in.Matrix
	if m == nil {
		m, err = distmatrix.BuildDistanceMatrix(logr.NewContext(ctx, log), greatcircle.Oracle{DetourFactor: *detour}, inst.Coordinates(), *batch)
		if err != nil {
			return err
		}
	}
	p, err := inst.WithMatrix(m)
	if err != nil {
		return err
	}
	sol, err := opt.Solve(logr.NewContext(ctx, log), p, sreq)
	if err != nil {
		return err
	}
	log.V(1).Info("solved", "strategy", sol.Strategy, "objective", sol.Objective)

	out := output{
		Strategy:         sol.Strategy,
		TotalDistance:    sol.TotalDistance,
		MaxRouteDistance: sol.MaxRouteDistance,
		Objective:        sol.Objective,
		Iterations:       sol.Stats.Iterations,
		ElapsedMs:        sol.Stats.Elapsed.Milliseconds(),
	}
	for _, r := range sol.Routes {
		rt := outRoute{VehicleID: r.VehicleID, Nodes: r.Nodes, Distance: r.Distance, Load: r.Load, Capacity: r.Capacity}
		if addrs := sol.RouteAddresses(r.VehicleID); hasAny(addrs) {
			rt.Addresses = addrs
		}
		out.Routes = append(out.Routes, rt)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// csvLocations reads a CSV where every row carries coordinates and exactly
// one row is the depot.
func csvLocations(ctx context.Context, path string) ([]opt.Location, error) {
	recs, err := csvfile.FromFile(path).FetchDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	locs := make([]opt.Location, len(recs))
	for i, r := range recs {
		if r.Coordinate == nil {
			return nil, fmt.Errorf("row %d (%s): lat and lng are required", i+1, r.Address)
		}
		locs[i] = opt.Location{Address: r.Address, Coordinate: *r.Coordinate, Demand: r.Demand, Depot: r.Depot}
	}
	return locs, nil
}

func hasAny(ss []string) bool {
	for _, s := range ss {
		if s != "" {
			return true
		}
	}
	return false
}
