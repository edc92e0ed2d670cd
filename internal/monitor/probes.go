package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cityroute/internal/geo"
	"cityroute/internal/model"
)

const (
	criticalChange = 0.5
	highChange     = 0.35

	// changes are ratios of float readings; 1.1 -> 1.65 comes out a hair under 0.5
	bandTolerance = 1e-9
)

type probe struct {
	name string
	run  func(ctx context.Context, r model.Route, since time.Time) ([]model.ReOptimizationTrigger, error)
}

// detect runs every probe against the held route. A failing probe is logged
// and contributes only what it found before failing.
func (m *Monitor) detect(ctx context.Context, routeID string) []model.ReOptimizationTrigger {
	m.mu.Lock()
	w, ok := m.watches[routeID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	route := w.route.Clone()
	since := w.lastCycle
	w.lastCycle = m.now()
	m.mu.Unlock()

	probes := []probe{
		{"traffic", m.probeTraffic},
		{"vehicle", m.probeVehicle},
		{"delivery", m.probeDeliveries},
		{"compliance", m.probeCompliance},
	}
	found := make([][]model.ReOptimizationTrigger, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			ts, err := p.run(ctx, route, since)
			if err != nil {
				m.log.Warn(m.log.WithField(ctx, "probe", p.name), "probe failed", err)
			}
			found[i] = ts
			return nil
		})
	}
	_ = g.Wait()

	var out []model.ReOptimizationTrigger
	for _, ts := range found {
		out = append(out, ts...)
	}
	return out
}

func (m *Monitor) newTrigger(t model.TriggerType, sev model.Severity, desc string, routeID string, meta map[string]any) model.ReOptimizationTrigger {
	return model.ReOptimizationTrigger{
		ID:               uuid.NewString(),
		Type:             t,
		Severity:         sev,
		Description:      desc,
		AffectedRouteIDs: []string{routeID},
		Timestamp:        m.now(),
		Metadata:         meta,
	}
}

// remainingPoints returns the locations of stops not yet completed or skipped.
func remainingPoints(r model.Route) []model.GeoPoint {
	var pts []model.GeoPoint
	for _, s := range r.Stops {
		if s.Status == model.StopCompleted || s.Status == model.StopSkipped {
			continue
		}
		pts = append(pts, s.Location.GeoPoint)
	}
	return pts
}

// changeSeverity grades a relative travel-time change. Below threshold is no change.
func (m *Monitor) changeSeverity(change float64) (model.Severity, bool) {
	change += bandTolerance
	switch {
	case change >= criticalChange:
		return model.SeverityCritical, true
	case change >= highChange:
		return model.SeverityHigh, true
	case change >= m.cfg.TrafficThreshold:
		return model.SeverityMedium, true
	}
	return "", false
}

// probeTraffic compares each remaining segment's multiplier with the cached
// reading and folds significant changes into one trigger. The first reading of
// a segment only primes the cache.
func (m *Monitor) probeTraffic(ctx context.Context, r model.Route, _ time.Time) ([]model.ReOptimizationTrigger, error) {
	if m.traffic == nil {
		return nil, nil
	}
	pts := remainingPoints(r)
	if len(pts) == 0 {
		return nil, nil
	}
	var (
		errs     []error
		out      []model.ReOptimizationTrigger
		segments int
		worst    float64
	)
	now := m.now()
	for i := 0; i+1 < len(pts); i++ {
		a, b := pts[i], pts[i+1]
		cond, err := m.traffic.CurrentTraffic(ctx, geo.BoundingArea(0.2, a, b))
		if err != nil {
			errs = append(errs, fmt.Errorf("segment %d: %w", i, err))
			continue
		}
		key := fmt.Sprintf("%s|%.5f,%.5f|%.5f,%.5f", r.ID, a.Lat, a.Lng, b.Lat, b.Lng)
		prev, ok := m.cache.swap(key, reading{multiplier: cond.TravelTimeMultiplier, at: now})
		if !ok || prev.multiplier <= 0 {
			continue
		}
		change := math.Abs(cond.TravelTimeMultiplier-prev.multiplier) / prev.multiplier
		if _, significant := m.changeSeverity(change); significant {
			segments++
			worst = math.Max(worst, change)
		}
	}
	if sev, ok := m.changeSeverity(worst); ok && segments > 0 {
		out = append(out, m.newTrigger(model.TriggerTrafficChange, sev,
			fmt.Sprintf("travel time changed %.0f%% on %d segment(s)", worst*100, segments),
			r.ID, map[string]any{"segments": segments, "maxChange": worst}))
	}

	alerts, err := m.traffic.TrafficAlerts(ctx, geo.BoundingArea(m.cfg.AlertRadiusKm, pts...))
	if err != nil {
		errs = append(errs, fmt.Errorf("alerts: %w", err))
		return out, errors.Join(errs...)
	}
	for _, a := range alerts {
		if !m.nearRoute(a.Location, pts) || !m.markAlert(r.ID, a.ID) {
			continue
		}
		sev := a.Severity
		if sev == "" {
			sev = model.SeverityMedium
		}
		out = append(out, m.newTrigger(model.TriggerTrafficChange, sev, a.Description, r.ID,
			map[string]any{"alertId": a.ID, "alertType": a.Type}))
	}
	return out, errors.Join(errs...)
}

func (m *Monitor) nearRoute(p model.GeoPoint, pts []model.GeoPoint) bool {
	for _, q := range pts {
		if geo.DistanceKm(p, q) <= m.cfg.AlertRadiusKm {
			return true
		}
	}
	return false
}

// markAlert records an alert id for a route and reports whether it was new.
func (m *Monitor) markAlert(routeID, alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[routeID]
	if !ok {
		return false
	}
	if _, seen := w.alerts[alertID]; seen && alertID != "" {
		return false
	}
	w.alerts[alertID] = struct{}{}
	return true
}

func (m *Monitor) probeVehicle(ctx context.Context, r model.Route, _ time.Time) ([]model.ReOptimizationTrigger, error) {
	if m.fleet == nil {
		return nil, nil
	}
	v, ok, err := m.fleet.GetVehicle(ctx, r.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", r.VehicleID, err)
	}
	if !ok {
		return []model.ReOptimizationTrigger{m.newTrigger(model.TriggerVehicleBreakdown, model.SeverityCritical,
			fmt.Sprintf("vehicle %s not found", r.VehicleID), r.ID, map[string]any{"reason": "vehicle_missing"})}, nil
	}
	if v.Status == model.StatusBreakdown || v.Status == model.StatusMaintenance {
		return []model.ReOptimizationTrigger{m.newTrigger(model.TriggerVehicleBreakdown, model.SeverityCritical,
			fmt.Sprintf("vehicle %s reported %s", v.ID, v.Status), r.ID, map[string]any{"reason": string(v.Status)})}, nil
	}
	next, ok := r.NextPendingStop()
	if !ok || v.Location == (model.GeoPoint{}) {
		return nil, nil
	}
	if d := geo.DistanceKm(v.Location, next.Location.GeoPoint); d > m.cfg.DeviationKm {
		return []model.ReOptimizationTrigger{m.newTrigger(model.TriggerVehicleBreakdown, model.SeverityMedium,
			fmt.Sprintf("vehicle %s is %.1f km from its next stop", v.ID, d), r.ID,
			map[string]any{"reason": "route_deviation", "deviationKm": d})}, nil
	}
	return nil, nil
}

func (m *Monitor) probeDeliveries(ctx context.Context, r model.Route, since time.Time) ([]model.ReOptimizationTrigger, error) {
	feed, ok := m.deliveries.(DeliveryChangeFeed)
	if !ok {
		return nil, nil
	}
	changed, err := feed.ChangedDeliveries(ctx, r.DeliveryIDs(), since)
	if err != nil {
		return nil, fmt.Errorf("delivery changes: %w", err)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	return []model.ReOptimizationTrigger{m.newTrigger(model.TriggerDeliveryUpdate, model.SeverityMedium,
		fmt.Sprintf("%d deliveries changed", len(changed)), r.ID, map[string]any{"deliveryIds": changed})}, nil
}

// probeCompliance re-evaluates the held route against freshly fetched rules and
// reports a route that stopped being compliant.
func (m *Monitor) probeCompliance(ctx context.Context, r model.Route, _ time.Time) ([]model.ReOptimizationTrigger, error) {
	if m.rules == nil || m.fleet == nil || m.deliveries == nil {
		return nil, nil
	}
	rules, err := m.rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	v, ok, err := m.fleet.GetVehicle(ctx, r.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", r.VehicleID, err)
	}
	if !ok {
		return nil, nil
	}
	ds, err := m.deliveries.Deliveries(ctx, r.DeliveryIDs())
	if err != nil {
		return nil, fmt.Errorf("deliveries: %w", err)
	}
	byID := make(map[string]model.Delivery, len(ds))
	for _, d := range ds {
		byID[d.ID] = d
	}
	verdict := m.evaluator.EvaluateRoute(v, r, byID, rules)

	m.mu.Lock()
	w, held := m.watches[r.ID]
	var prev *bool
	if held {
		prev = w.compliant
		now := verdict.IsCompliant
		w.compliant = &now
	}
	m.mu.Unlock()

	if prev == nil || !*prev || verdict.IsCompliant {
		return nil, nil
	}
	desc := "route no longer compliant"
	if len(verdict.Violations) > 0 {
		desc = verdict.Violations[0].Message
	}
	return []model.ReOptimizationTrigger{m.newTrigger(model.TriggerComplianceChange, model.SeverityHigh, desc, r.ID,
		map[string]any{"violations": len(verdict.Violations)})}, nil
}
