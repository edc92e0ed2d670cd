package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"cityroute/internal/events"
	"cityroute/internal/model"
	"cityroute/internal/premium"
)

const (
	MsgFrequencyLimit = "Re-optimization frequency limit exceeded"
	MsgNoValidRoutes  = "No valid routes found for re-optimization"
)

var (
	ErrFrequencyLimit = errors.New("re-optimization frequency limit exceeded")
	ErrNoValidRoutes  = errors.New("no valid routes found for re-optimization")
)

// PerformIncrementalReOptimization re-solves the routes a trigger affects.
// Failures come back as an unsuccessful result together with the cause; held
// routes are replaced only on success.
func (m *Monitor) PerformIncrementalReOptimization(ctx context.Context, trigger model.ReOptimizationTrigger) (model.ReOptimizationResult, error) {
	start := time.Now()
	res := model.ReOptimizationResult{Trigger: trigger}
	fail := func(outcome, msg string, err error) (model.ReOptimizationResult, error) {
		m.metrics.IncReoptimization(outcome)
		res.Success = false
		res.Message = msg
		res.OptimizationTime = time.Since(start)
		return res, err
	}

	ids := slices.Clone(trigger.AffectedRouteIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	// lock in id order so overlapping triggers cannot deadlock
	held := m.lockWatches(ids)
	defer func() {
		for _, h := range held {
			h.w.reopt.Unlock()
		}
	}()

	now := m.now()
	for _, id := range ids {
		if m.freq.count(id, now) >= m.cfg.FrequencyCap {
			return fail("rate_limited", MsgFrequencyLimit, fmt.Errorf("route %s: %w", id, ErrFrequencyLimit))
		}
	}
	originals := m.resolve(held)
	if len(originals) == 0 {
		return fail("no_routes", MsgNoValidRoutes, ErrNoValidRoutes)
	}
	if m.solver == nil {
		return fail("failed", "no solver configured", errors.New("monitor: solver is nil"))
	}

	out, err := m.replan(ctx, originals)
	if err != nil {
		return fail("failed", fmt.Sprintf("Re-optimization failed: %v", err), err)
	}
	if !out.Success {
		return fail("failed", out.Message, nil)
	}

	updated, created, cancelled, improvements := m.apply(originals, out.Routes, now)
	for _, r := range created {
		m.startWatch(r)
	}
	for _, id := range cancelled {
		m.StopRouteMonitoring(id)
	}
	updated = append(updated, created...)

	m.metrics.IncReoptimization("success")
	res.Success = true
	res.UpdatedRoutes = updated
	res.CancelledRoutes = cancelled
	res.Improvements = improvements
	res.AlgorithmUsed = out.AlgorithmUsed
	res.FallbackUsed = out.FallbackUsed
	res.Broadcasts = m.broadcaster.Updates(trigger, updated)
	res.OptimizationTime = time.Since(start)

	if len(res.Broadcasts) > 0 {
		evt := events.New(events.KindRouteUpdates)
		evt.Broadcasts = res.Broadcasts
		m.publish(ctx, evt)
	}
	evt := events.New(events.KindReoptimizationCompleted)
	evt.Result = &res
	m.publish(ctx, evt)
	return res, nil
}

type heldWatch struct {
	id string
	w  *watch
}

func (m *Monitor) lockWatches(ids []string) []heldWatch {
	m.mu.Lock()
	held := make([]heldWatch, 0, len(ids))
	for _, id := range ids {
		if w, ok := m.watches[id]; ok {
			held = append(held, heldWatch{id: id, w: w})
		}
	}
	m.mu.Unlock()
	for _, h := range held {
		h.w.reopt.Lock()
	}
	return held
}

// resolve returns the held routes of watches that are still registered.
func (m *Monitor) resolve(held []heldWatch) []model.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Route
	for _, h := range held {
		if m.watches[h.id] == h.w {
			out = append(out, h.w.route.Clone())
		}
	}
	return out
}

// replanGroups splits routes into separate solves: every dedicated premium
// route alone, then all shared routes together.
func replanGroups(routes []model.Route) [][]model.Route {
	var (
		groups [][]model.Route
		shared []model.Route
	)
	for _, r := range routes {
		if r.Optimization.Algorithm == premium.Algorithm {
			groups = append(groups, []model.Route{r})
			continue
		}
		shared = append(shared, r)
	}
	if len(shared) > 0 {
		groups = append(groups, shared)
	}
	return groups
}

// replan solves each group in turn and merges the routes. A vehicle placed by
// one solve is not offered to the next. The first unsuccessful solve is
// returned as is, so nothing is applied unless every group succeeds.
func (m *Monitor) replan(ctx context.Context, originals []model.Route) (model.RoutingResult, error) {
	merged := model.RoutingResult{Success: true}
	claimed := map[string]bool{}
	for _, g := range replanGroups(originals) {
		dedicated := g[0].Optimization.Algorithm == premium.Algorithm
		req, err := m.buildRequest(ctx, g, claimed)
		if err != nil {
			return model.RoutingResult{}, err
		}
		out, err := m.solver.Optimize(ctx, req)
		if err != nil {
			return model.RoutingResult{}, err
		}
		if !out.Success {
			return out, nil
		}
		for i := range out.Routes {
			claimed[out.Routes[i].VehicleID] = true
			if dedicated {
				out.Routes[i].Optimization.Algorithm = premium.Algorithm
			}
		}
		merged.Routes = append(merged.Routes, out.Routes...)
		merged.UnassignedDeliveries = append(merged.UnassignedDeliveries, out.UnassignedDeliveries...)
		if merged.AlgorithmUsed == "" || out.FallbackUsed {
			merged.AlgorithmUsed = out.AlgorithmUsed
		}
		merged.FallbackUsed = merged.FallbackUsed || out.FallbackUsed
	}
	return merged, nil
}

// buildRequest assembles a solve over the remaining deliveries of routes, using
// live vehicle state and any idle standby vehicles not in claimed. Loads already
// picked up stay on their vehicle; when that vehicle is out of service they are
// collected again from where it was last seen.
func (m *Monitor) buildRequest(ctx context.Context, routes []model.Route, claimed map[string]bool) (model.RoutingRequest, error) {
	if m.deliveries == nil {
		return model.RoutingRequest{}, errors.New("no delivery source configured")
	}
	now := m.now()
	var (
		vehicles  []model.Vehicle
		pending   []string
		seen      = map[string]bool{}
		carried   = map[string][]string{}
		transfers = map[string]model.Location{}
	)
	for _, r := range routes {
		pending = append(pending, pendingDeliveries(r)...)
		aboard := pickedUp(r)
		v, found, usable := m.liveVehicle(ctx, r)
		if !usable || claimed[v.ID] {
			from := lastKnownLocation(r, v, found)
			for _, id := range aboard {
				transfers[id] = from
			}
			continue
		}
		carried[v.ID] = append(carried[v.ID], aboard...)
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		// a vehicle on a route being re-planned is free for the new plan
		v.Status = model.StatusAvailable
		vehicles = append(vehicles, v)
	}
	for i := range vehicles {
		vehicles[i].OnBoard = append(slices.Clone(vehicles[i].OnBoard), carried[vehicles[i].ID]...)
	}
	if lister, ok := m.fleet.(VehicleLister); ok {
		busy := m.assignedVehicles()
		all, err := lister.ListVehicles(ctx)
		if err != nil {
			m.log.Warn(ctx, "standby vehicle listing failed", err)
		}
		for _, v := range all {
			if seen[v.ID] || busy[v.ID] || claimed[v.ID] || (v.Status != model.StatusAvailable && v.Status != "") {
				continue
			}
			seen[v.ID] = true
			vehicles = append(vehicles, v)
		}
	}
	deliveries, err := m.deliveries.Deliveries(ctx, pending)
	if err != nil {
		return model.RoutingRequest{}, fmt.Errorf("fetch deliveries: %w", err)
	}
	for i, d := range deliveries {
		if from, ok := transfers[d.ID]; ok {
			deliveries[i].Pickup = from
		}
	}
	var rules []model.RuleSet
	if m.rules != nil {
		if rules, err = m.rules.ActiveRules(ctx); err != nil {
			return model.RoutingRequest{}, fmt.Errorf("active rules: %w", err)
		}
	}
	return model.RoutingRequest{
		Vehicles:    vehicles,
		Deliveries:  deliveries,
		Constraints: model.DefaultConstraints(),
		Rules:       rules,
		TimeWindow:  model.TimeWindow{Earliest: now, Latest: now.Add(m.cfg.PlanningHorizon)},
		Options:     model.Options{MaxSeconds: m.cfg.ReoptMaxSeconds},
	}, nil
}

// liveVehicle fetches the route's vehicle. found is false when the lookup fails
// or the vehicle is unknown; usable is false as well for broken down and
// maintenance vehicles, which are left out of the new plan.
func (m *Monitor) liveVehicle(ctx context.Context, r model.Route) (v model.Vehicle, found, usable bool) {
	if m.fleet == nil {
		return model.Vehicle{}, false, false
	}
	v, ok, err := m.fleet.GetVehicle(ctx, r.VehicleID)
	if err != nil {
		m.log.Warn(m.log.WithRouteID(ctx, r.ID), "vehicle lookup failed", err)
		return model.Vehicle{}, false, false
	}
	if !ok {
		return model.Vehicle{}, false, false
	}
	if v.Status == model.StatusBreakdown || v.Status == model.StatusMaintenance {
		return v, true, false
	}
	return v, true, true
}

// lastKnownLocation is where a stranded load can be collected: the vehicle's
// reported position, or failing that the last stop it completed.
func lastKnownLocation(r model.Route, v model.Vehicle, found bool) model.Location {
	if found && v.Location != (model.GeoPoint{}) {
		return model.Location{GeoPoint: v.Location}
	}
	var last model.Location
	for _, s := range r.Stops {
		if s.Status == model.StopCompleted {
			last = s.Location
		}
	}
	return last
}

func (m *Monitor) assignedVehicles() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.watches))
	for _, w := range m.watches {
		out[w.route.VehicleID] = true
	}
	return out
}

// pendingDeliveries lists deliveries whose drop stop is still outstanding.
func pendingDeliveries(r model.Route) []string {
	var ids []string
	for _, s := range r.Stops {
		if s.Type != model.StopDelivery {
			continue
		}
		if s.Status == model.StopCompleted || s.Status == model.StopSkipped {
			continue
		}
		ids = append(ids, s.DeliveryID)
	}
	return ids
}

// pickedUp lists the pending deliveries whose load is already on the vehicle:
// the pickup stop is completed, or the route never had one.
func pickedUp(r model.Route) []string {
	pickups := map[string]model.StopStatus{}
	for _, s := range r.Stops {
		if s.Type == model.StopPickup {
			pickups[s.DeliveryID] = s.Status
		}
	}
	var ids []string
	for _, id := range pendingDeliveries(r) {
		if st, ok := pickups[id]; !ok || st == model.StopCompleted {
			ids = append(ids, id)
		}
	}
	return ids
}

// apply swaps solved routes into the held state. A new route inherits the id of
// the original on the same vehicle and bumps its version; originals without a
// successor are cancelled. Routes stopped mid-solve are skipped.
func (m *Monitor) apply(originals []model.Route, solved []model.Route, at time.Time) (updated, created []model.Route, cancelled []string, improvements []model.RouteImprovement) {
	byVehicle := make(map[string]model.Route, len(originals))
	for _, o := range originals {
		byVehicle[o.VehicleID] = o
	}
	matched := map[string]bool{}

	m.mu.Lock()
	for _, nr := range solved {
		old, ok := byVehicle[nr.VehicleID]
		if !ok {
			created = append(created, nr)
			continue
		}
		matched[old.ID] = true
		w, live := m.watches[old.ID]
		if !live {
			continue
		}
		nr.ID = old.ID
		nr.Version = old.Version + 1
		if old.Status == model.RouteActive {
			nr.Status = model.RouteActive
		}
		if nr.DriverID == "" {
			nr.DriverID = old.DriverID
		}
		w.route = nr.Clone()
		w.compliant = nil
		updated = append(updated, nr)
		improvements = append(improvements, model.RouteImprovement{
			RouteID:         nr.ID,
			DistanceSavedKm: math.Max(0, old.TotalDistanceKm-nr.TotalDistanceKm),
			TimeSavedMin:    math.Max(0, old.TotalDurationMin-nr.TotalDurationMin),
		})
	}
	m.mu.Unlock()

	for _, o := range originals {
		m.freq.record(o.ID, at)
		if !matched[o.ID] {
			cancelled = append(cancelled, o.ID)
		}
	}
	return updated, created, cancelled, improvements
}
