package opt

import (
	"context"
	"fmt"
	"time"
)

// State is a phase of a two-phase search.
type State int

const (
	StateConstruction State = iota
	StateImprovement
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstruction:
		return "construction"
	case StateImprovement:
		return "improvement"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// OperatorStats tracks adaptive operator usage for the annealing improver.
type OperatorStats struct {
	RemovalSelects        [2]int           `json:"removalSelects"` // random, related
	InsertSelects         [2]int           `json:"insertSelects"`  // greedy, regret2
	RepairFailures        int              `json:"repairFailures"`
	FinalRemovalWeights   [2]float64       `json:"finalRemovalWeights"`
	FinalInsertionWeights [2]float64       `json:"finalInsertionWeights"`
	Snapshots             []WeightSnapshot `json:"snapshots,omitempty"`
}

type WeightSnapshot struct {
	Iteration int        `json:"iteration"`
	Removal   [2]float64 `json:"removal"`
	Insertion [2]float64 `json:"insertion"`
}

// SearchStats summarizes one search run.
type SearchStats struct {
	Strategy         string         `json:"strategy"`
	States           []State        `json:"-"`
	Feasible         bool           `json:"feasible"`
	Iterations       int            `json:"iterations"`
	Improvements     int            `json:"improvements"`
	AcceptedWorse    int            `json:"acceptedWorse"`
	InitialObjective float64        `json:"initialObjective"`
	BestObjective    float64        `json:"bestObjective"`
	Converged        bool           `json:"converged"`
	DeadlineHit      bool           `json:"deadlineHit"`
	Elapsed          time.Duration  `json:"elapsedNs"`
	Operators        *OperatorStats `json:"operators,omitempty"`
}

func (s *SearchStats) enter(st State) { s.States = append(s.States, st) }

// SearchStrategy produces an assignment for the constraints before
// deadline. On expiry it returns the best feasible assignment found so far;
// if none exists it returns *NoSolutionError.
type SearchStrategy interface {
	Name() string
	Search(ctx context.Context, c *Constraints, deadline time.Time) (*Assignment, SearchStats, error)
}

// Constructor builds a first feasible plan, or fails with *NoSolutionError.
type Constructor interface {
	Name() string
	Construct(ctx context.Context, c *Constraints) (*Plan, error)
}

// Improver refines a feasible plan and returns the best feasible plan it
// saw. It must stop by deadline.
type Improver interface {
	Name() string
	Improve(ctx context.Context, c *Constraints, start *Plan, deadline time.Time, stats *SearchStats) *Plan
}

// TwoPhase runs a constructor and then an optional improver.
type TwoPhase struct {
	Label       string
	Constructor Constructor
	Improver    Improver
}

func (s TwoPhase) Name() string {
	if s.Label != "" {
		return s.Label
	}
	if s.Improver == nil {
		return s.Constructor.Name()
	}
	return s.Constructor.Name() + "+" + s.Improver.Name()
}

func (s TwoPhase) Search(ctx context.Context, c *Constraints, deadline time.Time) (*Assignment, SearchStats, error) {
	start := time.Now()
	stats := SearchStats{Strategy: s.Name()}

	stats.enter(StateConstruction)
	plan, err := s.Constructor.Construct(ctx, c)
	if err != nil {
		stats.enter(StateTerminated)
		stats.Elapsed = time.Since(start)
		return nil, stats, err
	}
	stats.InitialObjective = plan.Objective()

	if s.Improver != nil {
		stats.enter(StateImprovement)
		plan = s.Improver.Improve(ctx, c, plan, deadline, &stats)
	}

	stats.enter(StateTerminated)
	stats.Feasible = plan.Feasible() && len(plan.Unassigned()) == 0
	stats.BestObjective = plan.Objective()
	stats.Elapsed = time.Since(start)
	if !stats.Feasible {
		return nil, stats, c.noSolution(plan.Unassigned())
	}
	return plan.Assignment(), stats, nil
}

// StrategyOptions tunes the registered strategies. Zero values select
// defaults.
type StrategyOptions struct {
	Seed          int64
	Tenure        int
	MaxNoImprove  int
	MaxIterations int
}

// Strategy names accepted by StrategyByName.
const (
	StrategyTabu    = "tabu"
	StrategyALNS    = "alns"
	StrategySavings = "savings"
)

// Strategies lists the registered names.
func Strategies() []string { return []string{StrategyTabu, StrategyALNS, StrategySavings} }

// StrategyByName returns a registered strategy. The empty name selects tabu.
func StrategyByName(name string, o StrategyOptions) (SearchStrategy, error) {
	tabu := &TabuSearch{Tenure: o.Tenure, MaxNoImprove: o.MaxNoImprove, MaxIterations: o.MaxIterations}
	switch name {
	case "", StrategyTabu:
		return TwoPhase{Label: StrategyTabu, Constructor: CheapestInsertion{}, Improver: tabu}, nil
	case StrategyALNS:
		return TwoPhase{Label: StrategyALNS, Constructor: CheapestInsertion{},
			Improver: &Annealing{Seed: o.Seed, MaxIterations: o.MaxIterations}}, nil
	case StrategySavings:
		return TwoPhase{Label: StrategySavings, Constructor: Savings{}, Improver: tabu}, nil
	}
	return nil, configErrorf("unknown search strategy %q", name)
}

// clock amortizes deadline checks over tight neighbourhood scans. Once
// expired it stays expired.
type clock struct {
	ctx      context.Context
	deadline time.Time
	n        uint
	expired  bool
}

func newClock(ctx context.Context, deadline time.Time) *clock {
	return &clock{ctx: ctx, deadline: deadline}
}

// tick is cheap; it samples the wall clock every 128 calls.
func (k *clock) tick() bool {
	if k.expired {
		return true
	}
	k.n++
	if k.n&127 != 0 {
		return false
	}
	return k.check()
}

// check samples the wall clock now.
func (k *clock) check() bool {
	if k.expired {
		return true
	}
	if k.ctx.Err() != nil || (!k.deadline.IsZero() && !time.Now().Before(k.deadline)) {
		k.expired = true
	}
	return k.expired
}
