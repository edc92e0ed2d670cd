package opt

import (
	"github.com/google/uuid"

	"cityroute/internal/model"
)

// materialize converts non-empty plans into routes with fresh ids, per-stop
// timing, aggregates and a compliance check of the stops as scheduled.
func (s *Solver) materialize(p *Problem, sol Solution, meta model.OptimizationMeta, hubID string, rules []model.RuleSet) []model.Route {
	deliveries := make(map[string]model.Delivery, len(p.Tasks))
	for _, t := range p.Tasks {
		deliveries[t.Delivery.ID] = t.Delivery
	}
	var routes []model.Route
	for _, pl := range sol.Plans {
		if len(pl.Stops) == 0 {
			continue
		}
		sched, ok := p.schedule(pl)
		if !ok {
			continue
		}
		v := p.Vehicles[pl.Vehicle]
		r := model.Route{
			ID:        uuid.NewString(),
			Version:   1,
			VehicleID: v.ID,
			DriverID:  v.Driver.ID,
			HubID:     hubID,
			Status:    model.RoutePlanned,
		}
		for i, vis := range sched.Visits {
			typ := model.StopDelivery
			if isPickup(vis.Stop) {
				typ = model.StopPickup
			}
			r.Stops = append(r.Stops, model.Stop{
				Sequence:         i + 1,
				Location:         p.stopPoint(vis.Stop),
				Type:             typ,
				DeliveryID:       p.Tasks[taskOf(vis.Stop)].Delivery.ID,
				EstimatedArrival: vis.Arrival,
				EstimatedDepart:  vis.Depart,
				Status:           model.StopPending,
			})
		}
		r.TotalDistanceKm = sched.Km
		r.TotalDurationMin = sched.Duration.Minutes()
		r.FuelLitres = FuelLitres(v.Vehicle, sched.Km)
		r.Optimization = meta
		r.Optimization.ObjectiveValue = p.planCost(pl)
		r.Compliance = s.evaluator.EvaluateRoute(v.Vehicle, r, deliveries, rules)
		routes = append(routes, r)
	}
	return routes
}

// FuelLitres is distance times the vehicle's fuel rate; electric vehicles burn none.
func FuelLitres(v model.Vehicle, km float64) float64 {
	if v.IsElectric() {
		return 0
	}
	return km * v.FuelRateLPerKm
}
