package opt

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"sort"
	"time"

	"cityroute/internal/geo"
)

// Metrics describes one ALNS run.
type Metrics struct {
	RemovalSelects        [2]int // random, shaw
	InsertSelects         [2]int // greedy, regret2
	Iterations            int
	Improvements          int
	AcceptedWorse         int
	BestCost              float64
	FinalRemovalWeights   [2]float64
	FinalInsertionWeights [2]float64
	Elapsed               time.Duration
}

// searchALNS builds a first solution and improves it with adaptive large
// neighbourhood search until the iteration limit, the time budget or ctx ends.
// It returns ErrTimeout when the budget runs out before a first solution exists.
func searchALNS(ctx context.Context, p *Problem) (Solution, Metrics, error) {
	start := time.Now()
	deadline := start.Add(p.TimeBudget)
	expired := func() bool {
		return ctx.Err() != nil || (p.TimeBudget > 0 && time.Now().After(deadline))
	}

	var curr Solution
	var err error
	if p.FirstSolution == FirstNearestNeighbor {
		curr, err = nearestNeighborSeed(p, expired)
	} else {
		curr, err = cheapestInsertionSeed(p, expired)
	}
	if err != nil {
		return Solution{}, Metrics{Elapsed: time.Since(start)}, err
	}
	curr = relocateImprove(p, curr)
	curr = twoOptImprove(p, curr)
	best := curr.clone()
	m := Metrics{BestCost: best.Cost}
	if p.Metaheuristic == MetaheuristicNone {
		m.Elapsed = time.Since(start)
		return best, m, nil
	}

	rng := rand.New(rand.NewSource(p.Seed))
	remW := []float64{1, 1}
	insW := []float64{1, 1}
	temp := 10.0
	if p.InitialTemp > 0 {
		temp = p.InitialTemp
	}
	cool := 0.995
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}
	for m.Iterations < p.MaxIterations && !expired() {
		m.Iterations++
		k := 1 + rng.Intn(3)
		op := selectOp(remW, rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW, rng)
		m.InsertSelects[ip]++

		var removed []int
		switch op {
		case 0:
			removed = randomRemoval(p, curr, k, rng)
		case 1:
			removed = shawRemoval(p, curr, k, rng)
		}
		cand := withoutTasks(curr, removed)
		pending := uniqueSorted(append(removed, cand.Unassigned(p)...))
		switch ip {
		case 0:
			cand = greedyInsert(p, cand, pending)
		case 1:
			cand = regretInsert(p, cand, pending)
		}
		cand = twoOptImprove(p, cand)
		cand.Cost = p.cost(cand)

		delta := cand.Cost - curr.Cost
		switch {
		case cand.Cost < best.Cost-1e-9:
			best = cand.clone()
			curr = cand
			remW[op] += 0.1
			insW[ip] += 0.1
			m.Improvements++
			m.BestCost = best.Cost
		case delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)):
			curr = cand
			remW[op] += 0.01
			insW[ip] += 0.01
			m.AcceptedWorse++
		default:
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
	}
	m.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	m.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	m.Elapsed = time.Since(start)
	return best, m, nil
}

// cheapestInsertionSeed inserts tasks one at a time at their globally cheapest
// feasible position. Tasks with no feasible position stay unassigned.
func cheapestInsertionSeed(p *Problem, expired func() bool) (Solution, error) {
	sol := p.emptySolution()
	pending := make([]int, len(p.Tasks))
	for i := range pending {
		pending[i] = i
	}
	for len(pending) > 0 {
		if expired() {
			return Solution{}, ErrTimeout
		}
		next := greedyStep(p, &sol, pending)
		if next == nil {
			break
		}
		pending = next
	}
	sol.Cost = p.cost(sol)
	return sol, nil
}

// greedyStep performs the single cheapest insertion among pending tasks and
// returns the remaining tasks, or nil when nothing can be inserted.
func greedyStep(p *Problem, sol *Solution, pending []int) []int {
	bestTask, bestPlan := -1, -1
	var bestStops []int
	bestDelta := math.Inf(1)
	for ti, t := range pending {
		for vi, pl := range sol.Plans {
			stops, d, ok := p.bestInsertion(pl, t)
			if ok && d < bestDelta-1e-9 {
				bestDelta, bestTask, bestPlan, bestStops = d, ti, vi, stops
			}
		}
	}
	if bestTask < 0 {
		return nil
	}
	sol.Plans[bestPlan].Stops = bestStops
	return append(append([]int(nil), pending[:bestTask]...), pending[bestTask+1:]...)
}

func greedyInsert(p *Problem, sol Solution, pending []int) Solution {
	for len(pending) > 0 {
		next := greedyStep(p, &sol, pending)
		if next == nil {
			break
		}
		pending = next
	}
	sol.Cost = p.cost(sol)
	return sol
}

// regretInsert inserts first the task whose best and second-best vehicles
// differ most in cost.
func regretInsert(p *Problem, sol Solution, pending []int) Solution {
	for len(pending) > 0 {
		pick, pickPlan := -1, -1
		var pickStops []int
		bestRegret := -1.0
		for ti, t := range pending {
			best1, best2 := math.Inf(1), math.Inf(1)
			plan := -1
			var stops []int
			for vi, pl := range sol.Plans {
				s, d, ok := p.bestInsertion(pl, t)
				if !ok {
					continue
				}
				if d < best1 {
					best2 = best1
					best1, plan, stops = d, vi, s
				} else if d < best2 {
					best2 = d
				}
			}
			if plan < 0 {
				continue
			}
			regret := best2 - best1
			if math.IsInf(best2, 1) {
				regret = unassignedPenalty
			}
			if regret > bestRegret+1e-9 {
				bestRegret, pick, pickPlan, pickStops = regret, ti, plan, stops
			}
		}
		if pick < 0 {
			break
		}
		sol.Plans[pickPlan].Stops = pickStops
		pending = append(append([]int(nil), pending[:pick]...), pending[pick+1:]...)
	}
	sol.Cost = p.cost(sol)
	return sol
}

func assignedTasks(sol Solution) []int {
	var out []int
	for _, pl := range sol.Plans {
		for _, st := range pl.Stops {
			if isPickup(st) {
				out = append(out, taskOf(st))
			}
		}
	}
	sort.Ints(out)
	return out
}

func randomRemoval(_ *Problem, sol Solution, k int, rng *rand.Rand) []int {
	all := assignedTasks(sol)
	var removed []int
	for i := 0; i < k && len(all) > 0; i++ {
		j := rng.Intn(len(all))
		removed = append(removed, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return removed
}

// shawRemoval removes a random seed task plus the k-1 tasks most related to it
// by pickup and drop proximity and overlapping delivery windows.
func shawRemoval(p *Problem, sol Solution, k int, rng *rand.Rand) []int {
	assigned := assignedTasks(sol)
	if len(assigned) == 0 {
		return nil
	}
	seed := assigned[rng.Intn(len(assigned))]
	sd := p.Tasks[seed].Delivery
	type rel struct {
		task  int
		score float64
	}
	var rels []rel
	for _, t := range assigned {
		if t == seed {
			continue
		}
		d := p.Tasks[t].Delivery
		score := geo.DistanceKm(sd.Pickup.GeoPoint, d.Pickup.GeoPoint) + geo.DistanceKm(sd.Drop.GeoPoint, d.Drop.GeoPoint)
		score -= windowOverlap(sd.TimeWindow.Earliest, sd.TimeWindow.Latest, d.TimeWindow.Earliest, d.TimeWindow.Latest).Hours()
		rels = append(rels, rel{task: t, score: score})
	}
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].score < rels[j].score })
	removed := []int{seed}
	for i := 0; i < len(rels) && len(removed) < k; i++ {
		removed = append(removed, rels[i].task)
	}
	return removed
}

func windowOverlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	if aStart.IsZero() || aEnd.IsZero() || bStart.IsZero() || bEnd.IsZero() {
		return 0
	}
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

func withoutTasks(sol Solution, tasks []int) Solution {
	gone := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		gone[t] = true
	}
	out := sol.clone()
	for i := range out.Plans {
		out.Plans[i].Stops = removeTasks(out.Plans[i].Stops, gone)
	}
	return out
}

// relocateImprove moves single tasks to their cheapest position on any vehicle
// while that lowers the total cost.
func relocateImprove(p *Problem, sol Solution) Solution {
	sol.Cost = p.cost(sol)
	for _, t := range assignedTasks(sol) {
		cand := withoutTasks(sol, []int{t})
		cand = greedyInsert(p, cand, []int{t})
		if cand.Cost < sol.Cost-1e-6 {
			sol = cand
		}
	}
	return sol
}

// twoOptImprove reverses stop segments inside each plan when the result stays
// feasible and is cheaper.
func twoOptImprove(p *Problem, sol Solution) Solution {
	for vi := range sol.Plans {
		pl := sol.Plans[vi]
		n := len(pl.Stops)
		bestCost := p.planCost(pl)
		improved := true
		for improved {
			improved = false
			for i := 0; i < n-1; i++ {
				for k := i + 1; k < n; k++ {
					cand := RoutePlan{Vehicle: pl.Vehicle, Stops: append([]int(nil), pl.Stops...)}
					for a, b := i, k; a < b; a, b = a+1, b-1 {
						cand.Stops[a], cand.Stops[b] = cand.Stops[b], cand.Stops[a]
					}
					if c := p.planCost(cand); c+1e-6 < bestCost {
						pl, bestCost = cand, c
						improved = true
					}
				}
			}
		}
		sol.Plans[vi] = pl
	}
	sol.Cost = p.cost(sol)
	return sol
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}

func uniqueSorted(xs []int) []int {
	slices.Sort(xs)
	return slices.Compact(xs)
}
