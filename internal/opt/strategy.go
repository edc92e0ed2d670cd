package opt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInfeasible = errors.New("opt: no feasible assignment")
	ErrTimeout    = errors.New("opt: time budget exhausted")
)

const (
	AlgorithmALNS            = "alns"
	AlgorithmNearestNeighbor = "nearest_neighbor"

	FirstCheapestInsertion = "cheapest_insertion"
	FirstNearestNeighbor   = "nearest_neighbor"

	MetaheuristicALNS = "alns"
	MetaheuristicNone = "none"
)

// Outcome is what a strategy produced. Solution may be partial when Err is set.
type Outcome struct {
	Solution   Solution
	Iterations int
	Metrics    Metrics
}

// Strategy is one way of solving a Problem. Strategies are tried in rank order
// and the first to return a nil error wins.
type Strategy interface {
	Name() string
	Solve(ctx context.Context, p *Problem) (Outcome, error)
}

// ALNS is the primary bounded-time solver. It fails with ErrTimeout when no
// first solution is built in time and ErrInfeasible when any delivery is left
// unassigned, so the next strategy gets a chance.
type ALNS struct{}

func (ALNS) Name() string { return AlgorithmALNS }

func (ALNS) Solve(ctx context.Context, p *Problem) (Outcome, error) {
	sol, m, err := searchALNS(ctx, p)
	out := Outcome{Solution: sol, Iterations: m.Iterations, Metrics: m}
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("alns: %w", err)
	}
	if missing := sol.Unassigned(p); len(missing) > 0 {
		return out, fmt.Errorf("alns: %d deliveries unassigned: %w", len(missing), ErrInfeasible)
	}
	return out, nil
}

// NearestNeighbor is the deterministic fallback. It succeeds whenever it serves
// at least one delivery and never times out.
type NearestNeighbor struct{}

func (NearestNeighbor) Name() string { return AlgorithmNearestNeighbor }

func (NearestNeighbor) Solve(_ context.Context, p *Problem) (Outcome, error) {
	start := time.Now()
	sol, err := nearestNeighborSeed(p, func() bool { return false })
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Solution: sol, Metrics: Metrics{BestCost: sol.Cost, Elapsed: time.Since(start)}}
	if len(sol.Unassigned(p)) == len(p.Tasks) {
		return out, ErrInfeasible
	}
	return out, nil
}

// DefaultStrategies is the ranked list used when the solver is not given one.
func DefaultStrategies() []Strategy {
	return []Strategy{ALNS{}, NearestNeighbor{}}
}
