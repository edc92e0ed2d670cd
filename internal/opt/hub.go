package opt

import (
	"context"
	"sort"
	"time"

	"cityroute/internal/geo"
	"cityroute/internal/model"
)

// solveHubs groups deliveries by the hub nearest their pickup and solves the
// groups in order of hub opening time. A vehicle used for one hub starts the
// next hub's leg from where its previous route ended, no earlier than that hub
// opens.
func (s *Solver) solveHubs(ctx context.Context, req model.RoutingRequest) []groupResult {
	points := make([]model.GeoPoint, len(req.Hubs))
	for i, h := range req.Hubs {
		points[i] = h.Location.GeoPoint
	}
	groups := make(map[int][]model.Delivery)
	for _, d := range req.Deliveries {
		hi := geo.Nearest(d.Pickup.GeoPoint, points)
		groups[hi] = append(groups[hi], d)
	}

	order := make([]int, 0, len(groups))
	for hi := range groups {
		order = append(order, hi)
	}
	opens := func(hi int) time.Time { return req.Hubs[hi].OperatingHours.OpenAt(req.TimeWindow.Earliest) }
	sort.Slice(order, func(i, j int) bool {
		a, b := opens(order[i]), opens(order[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return req.Hubs[order[i]].ID < req.Hubs[order[j]].ID
	})

	vehicles := Available(req.Vehicles)
	ends := make(map[string]planEnd, len(vehicles))
	for _, v := range vehicles {
		ends[v.ID] = planEnd{at: v.Location, t: req.TimeWindow.Earliest}
	}

	parts := make([]groupResult, 0, len(order))
	for _, hi := range order {
		open := opens(hi)
		starts := make(map[string]planEnd, len(ends))
		for id, e := range ends {
			if e.t.Before(open) {
				e.t = open
			}
			starts[id] = e
		}
		g := s.solveGroup(ctx, req, vehicles, groups[hi], starts, req.Hubs[hi].ID)
		if g.err == nil {
			for _, pl := range g.outcome.Solution.Plans {
				if len(pl.Stops) == 0 {
					continue
				}
				sched, ok := g.problem.schedule(pl)
				if !ok || len(sched.Visits) == 0 {
					continue
				}
				last := sched.Visits[len(sched.Visits)-1]
				ends[g.problem.Vehicles[pl.Vehicle].ID] = planEnd{at: g.problem.stopPoint(last.Stop).GeoPoint, t: last.Depart}
			}
		}
		parts = append(parts, g)
	}
	return parts
}
