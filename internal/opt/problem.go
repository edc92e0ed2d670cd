package opt

import (
	"math"
	"slices"
	"time"

	"cityroute/internal/geo"
	"cityroute/internal/model"
)

// unassignedPenalty dominates every other objective term.
const unassignedPenalty = 1e6

// Task is one pickup/drop pair. In a plan, stop 2*i is the pickup of task i and
// stop 2*i+1 its drop.
//
// An OnBoard task is already loaded on vehicle Carrier. Its pickup stays in the
// plan as a marker that costs no travel and produces no visit, and no other
// vehicle may take it.
type Task struct {
	Delivery model.Delivery
	Weight   float64
	Volume   float64
	Service  time.Duration
	OnBoard  bool
	Carrier  int
}

func pickupOf(task int) int { return 2 * task }
func dropOf(task int) int   { return 2*task + 1 }
func taskOf(stop int) int   { return stop / 2 }
func isPickup(stop int) bool {
	return stop%2 == 0
}

// Vehicle is a fleet vehicle with the point and time it starts this solve from.
type Vehicle struct {
	model.Vehicle
	Start    model.GeoPoint
	StartAt  time.Time
	SpeedKph float64
}

// Problem is the solver's normalised view of a routing request.
type Problem struct {
	Tasks    []Task
	Vehicles []Vehicle
	// Allowed[v][t] is false when a rule that does not depend on the time of a
	// visit excludes task t from vehicle v, or t is on board another vehicle.
	Allowed [][]bool
	// Penalty[v][t] is the soft compliance penalty of serving t with v.
	Penalty [][]float64

	Constraints   model.Constraints
	Horizon       time.Time // latest permitted arrival, zero for none
	MaxIterations int
	Seed          int64
	TimeBudget    time.Duration
	FirstSolution string
	Metaheuristic string
	InitialTemp   float64
	Cooling       float64

	// visitOK reports whether vehicle v may be at stop at the given time. Nil
	// when no rule depends on the time of day.
	visitOK func(v, stop int, at time.Time) bool
}

// RoutePlan is an ordered list of stop indices for one vehicle.
type RoutePlan struct {
	Vehicle int
	Stops   []int
}

type Solution struct {
	Plans []RoutePlan
	Cost  float64
}

func (s Solution) clone() Solution {
	out := Solution{Plans: make([]RoutePlan, len(s.Plans)), Cost: s.Cost}
	for i, pl := range s.Plans {
		out.Plans[i] = RoutePlan{Vehicle: pl.Vehicle, Stops: append([]int(nil), pl.Stops...)}
	}
	return out
}

// Unassigned returns task indices not served by any plan, ascending.
func (s Solution) Unassigned(p *Problem) []int {
	served := make([]bool, len(p.Tasks))
	for _, pl := range s.Plans {
		for _, st := range pl.Stops {
			served[taskOf(st)] = true
		}
	}
	var out []int
	for i, ok := range served {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

func (p *Problem) emptySolution() Solution {
	plans := make([]RoutePlan, len(p.Vehicles))
	for i := range plans {
		plans[i] = RoutePlan{Vehicle: i, Stops: []int{}}
	}
	return Solution{Plans: plans}
}

// firstPoint is where serving task t starts: its pickup, or its drop when the
// load is already on board.
func (p *Problem) firstPoint(t int) model.GeoPoint {
	if p.Tasks[t].OnBoard {
		return p.Tasks[t].Delivery.Drop.GeoPoint
	}
	return p.Tasks[t].Delivery.Pickup.GeoPoint
}

func (p *Problem) stopPoint(stop int) model.Location {
	d := p.Tasks[taskOf(stop)].Delivery
	if isPickup(stop) {
		return d.Pickup
	}
	return d.Drop
}

// Visit is the timing of one scheduled stop.
type Visit struct {
	Stop    int
	KmFrom  float64
	Arrival time.Time
	Depart  time.Time
}

type Schedule struct {
	Visits   []Visit
	Km       float64
	Duration time.Duration
}

// schedule walks a plan from the vehicle's start, waiting for windows that have
// not opened. It reports false when precedence, capacity, a delivery window, the
// horizon or a time-of-day rule at an arrival is broken.
func (p *Problem) schedule(pl RoutePlan) (Schedule, bool) {
	v := p.Vehicles[pl.Vehicle]
	var sched Schedule
	sched.Visits = make([]Visit, 0, len(pl.Stops))

	picked := make(map[int]bool, len(pl.Stops)/2)
	weight, volume := 0.0, 0.0
	cur := v.Start
	t := v.StartAt
	for _, st := range pl.Stops {
		task := p.Tasks[taskOf(st)]
		if isPickup(st) {
			picked[taskOf(st)] = true
			weight += task.Weight
			volume += task.Volume
			if p.Constraints.Capacity && !fits(v.Capacity, weight, volume) {
				return sched, false
			}
			if task.OnBoard {
				if task.Carrier != pl.Vehicle {
					return sched, false
				}
				continue
			}
		} else if !picked[taskOf(st)] {
			return sched, false
		}
		loc := p.stopPoint(st).GeoPoint
		km := geo.DistanceKm(cur, loc)
		t = t.Add(minutes(geo.TravelMinutes(km, v.SpeedKph)))
		if !isPickup(st) && p.Constraints.TimeWindows {
			w := task.Delivery.TimeWindow
			if !w.Earliest.IsZero() && t.Before(w.Earliest) {
				t = w.Earliest
			}
			if !w.Latest.IsZero() && t.After(w.Latest) {
				return sched, false
			}
		}
		if p.Constraints.TimeWindows && !p.Horizon.IsZero() && t.After(p.Horizon) {
			return sched, false
		}
		if p.visitOK != nil && !p.visitOK(pl.Vehicle, st, t) {
			return sched, false
		}
		arr := t
		t = t.Add(task.Service)
		sched.Visits = append(sched.Visits, Visit{Stop: st, KmFrom: km, Arrival: arr, Depart: t})
		sched.Km += km
		cur = loc
	}
	for task := range picked {
		if !slices.Contains(pl.Stops, dropOf(task)) {
			return sched, false
		}
	}
	sched.Duration = t.Sub(v.StartAt)
	return sched, true
}

func fits(c model.Capacity, weight, volume float64) bool {
	return weight <= c.WeightKg+1e-9 && volume <= c.VolumeM3+1e-9
}

// planCost is distance plus a duration weight plus the soft compliance penalties
// of every task the plan serves. Infeasible plans cost +Inf.
func (p *Problem) planCost(pl RoutePlan) float64 {
	if len(pl.Stops) == 0 {
		return 0
	}
	sched, ok := p.schedule(pl)
	if !ok {
		return math.Inf(1)
	}
	c := sched.Km + 0.1*sched.Duration.Minutes()
	for _, st := range pl.Stops {
		if isPickup(st) {
			c += p.Penalty[pl.Vehicle][taskOf(st)]
		}
	}
	return c
}

func (p *Problem) cost(s Solution) float64 {
	total := 0.0
	for _, pl := range s.Plans {
		total += p.planCost(pl)
	}
	return total + unassignedPenalty*float64(len(s.Unassigned(p)))
}

// canServe reports whether vehicle v may take task t at all.
func (p *Problem) canServe(v, t int) bool {
	if !p.Allowed[v][t] {
		return false
	}
	if p.Tasks[t].OnBoard && p.Tasks[t].Carrier != v {
		return false
	}
	if p.Constraints.Capacity {
		return fits(p.Vehicles[v].Capacity, p.Tasks[t].Weight, p.Tasks[t].Volume)
	}
	return true
}

// insertPair places task t's pickup at position i and its drop at j (j > i,
// both positions relative to the final list).
func insertPair(stops []int, t, i, j int) []int {
	out := make([]int, 0, len(stops)+2)
	src := 0
	for pos := 0; pos < len(stops)+2; pos++ {
		switch pos {
		case i:
			out = append(out, pickupOf(t))
		case j:
			out = append(out, dropOf(t))
		default:
			out = append(out, stops[src])
			src++
		}
	}
	return out
}

func removeTasks(stops []int, gone map[int]bool) []int {
	out := make([]int, 0, len(stops))
	for _, st := range stops {
		if !gone[taskOf(st)] {
			out = append(out, st)
		}
	}
	return out
}

// bestInsertion returns the cheapest feasible placement of t into plan, with
// the cost delta, or ok=false.
func (p *Problem) bestInsertion(pl RoutePlan, t int) (stops []int, delta float64, ok bool) {
	if !p.canServe(pl.Vehicle, t) {
		return nil, 0, false
	}
	base := p.planCost(pl)
	delta = math.Inf(1)
	n := len(pl.Stops)
	for i := 0; i <= n; i++ {
		for j := i + 1; j <= n+1; j++ {
			cand := RoutePlan{Vehicle: pl.Vehicle, Stops: insertPair(pl.Stops, t, i, j)}
			c := p.planCost(cand)
			if math.IsInf(c, 1) {
				continue
			}
			if d := c - base; d < delta-1e-9 {
				delta = d
				stops = cand.Stops
				ok = true
			}
		}
	}
	return stops, delta, ok
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
