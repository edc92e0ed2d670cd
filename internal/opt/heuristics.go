package opt

import (
	"math"
	"time"

	"cityroute/internal/geo"
	"cityroute/internal/model"
)

// nearestNeighborSeed is the deterministic fallback construction. At each step
// it picks, over every vehicle, the unassigned pickup nearest to that vehicle's
// last stop (the drop, for a load already on board); ties go to the earlier
// arrival, then the lower delivery id, then the lower vehicle index. The pickup
// and its drop are appended as a pair.
// Candidates whose pair would break a constraint are skipped.
func nearestNeighborSeed(p *Problem, expired func() bool) (Solution, error) {
	sol := p.emptySolution()
	assigned := make([]bool, len(p.Tasks))
	ends := make([]planEnd, len(p.Vehicles))
	for vi, v := range p.Vehicles {
		ends[vi] = planEnd{at: v.Start, t: v.StartAt}
	}

	for {
		if expired() {
			return Solution{}, ErrTimeout
		}
		best := nnCandidate{vehicle: -1}
		for vi := range p.Vehicles {
			for t := range p.Tasks {
				if assigned[t] || !p.canServe(vi, t) {
					continue
				}
				km := geo.DistanceKm(ends[vi].at, p.firstPoint(t))
				arrival := ends[vi].t.Add(minutes(geo.TravelMinutes(km, p.Vehicles[vi].SpeedKph)))
				c := nnCandidate{vehicle: vi, task: t, km: km, arrival: arrival}
				if !c.better(best, p) {
					continue
				}
				cand := RoutePlan{Vehicle: vi, Stops: append(append([]int(nil), sol.Plans[vi].Stops...), pickupOf(t), dropOf(t))}
				if _, ok := p.schedule(cand); !ok {
					continue
				}
				best = c
			}
		}
		if best.vehicle < 0 {
			break
		}
		pl := &sol.Plans[best.vehicle]
		pl.Stops = append(pl.Stops, pickupOf(best.task), dropOf(best.task))
		assigned[best.task] = true
		sched, _ := p.schedule(*pl)
		last := sched.Visits[len(sched.Visits)-1]
		ends[best.vehicle] = planEnd{at: p.stopPoint(last.Stop).GeoPoint, t: last.Depart}
	}
	sol.Cost = p.cost(sol)
	return sol, nil
}

type planEnd struct {
	at model.GeoPoint
	t  time.Time
}

type nnCandidate struct {
	vehicle int
	task    int
	km      float64
	arrival time.Time
}

func (c nnCandidate) better(than nnCandidate, p *Problem) bool {
	if than.vehicle < 0 {
		return true
	}
	if math.Abs(c.km-than.km) > 1e-9 {
		return c.km < than.km
	}
	if !c.arrival.Equal(than.arrival) {
		return c.arrival.Before(than.arrival)
	}
	ci, ti := p.Tasks[c.task].Delivery.ID, p.Tasks[than.task].Delivery.ID
	if ci != ti {
		return ci < ti
	}
	return c.vehicle < than.vehicle
}
