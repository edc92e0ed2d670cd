// Package planner is the engine's entry point. It splits premium deliveries off
// to dedicated vehicles, solves the shared remainder and hands routes to the
// monitor.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cityroute/internal/logger"
	"cityroute/internal/model"
	"cityroute/internal/monitor"
	"cityroute/internal/opt"
	"cityroute/internal/premium"
)

var ErrMonitoringDisabled = errors.New("route monitoring is not configured")

type Params struct {
	Solver  *opt.Solver
	Premium *premium.Allocator
	Monitor *monitor.Monitor
	Logger  *logger.Logger
	Now     func() time.Time
}

type Planner struct {
	solver  *opt.Solver
	premium *premium.Allocator
	monitor *monitor.Monitor
	log     *logger.Logger
	now     func() time.Time
}

func New(p Params) *Planner {
	pl := &Planner{solver: p.Solver, premium: p.Premium, monitor: p.Monitor, log: p.Logger, now: p.Now}
	if pl.log == nil {
		pl.log = logger.Nop()
	}
	if pl.solver == nil {
		pl.solver = opt.New(opt.Params{Logger: pl.log})
	}
	if pl.premium == nil {
		pl.premium = premium.New(premium.DefaultConfig(), nil, pl.log)
	}
	if pl.now == nil {
		pl.now = time.Now
	}
	return pl
}

// OptimizeRoutes plans a request. Premium deliveries each get a dedicated
// vehicle first; the shared deliveries are solved over the vehicles left.
func (p *Planner) OptimizeRoutes(ctx context.Context, req model.RoutingRequest) (model.RoutingResult, error) {
	start := time.Now()
	if msg := opt.Precheck(req); msg != "" {
		return model.Failed(msg), nil
	}
	if err := p.solver.Validate(req); err != nil {
		return model.RoutingResult{}, err
	}
	prem, shared := premium.Partition(req.Deliveries, req.Options.PremiumCustomerIDs)
	if len(prem) == 0 {
		return p.solver.Optimize(ctx, req)
	}

	dispatch := req.TimeWindow.Earliest
	if dispatch.IsZero() {
		dispatch = p.now()
	}
	alloc, err := p.premium.Allocate(ctx, prem, opt.Available(req.Vehicles), req.Rules, dispatch)
	if errors.Is(err, premium.ErrNoEligibleVehicles) {
		return model.Failed(premium.MsgNoEligibleVehicles), nil
	}
	if err != nil {
		return model.RoutingResult{}, fmt.Errorf("premium allocation: %w", err)
	}
	p.log.Info(p.log.WithField(ctx, "premium_routes", len(alloc.Routes)), "premium deliveries allocated")

	res := model.RoutingResult{
		Success:       true,
		Routes:        alloc.Routes,
		PremiumRoutes: alloc.Allocations,
		AlgorithmUsed: premium.Algorithm,
	}
	for _, r := range alloc.Routes {
		res.ObjectiveValue += r.Optimization.ObjectiveValue
	}

	if len(shared) > 0 {
		sub := req
		sub.Deliveries = shared
		sub.Vehicles = alloc.Remaining
		sr, err := p.solver.Optimize(ctx, sub)
		if err != nil {
			return model.RoutingResult{}, err
		}
		if sr.Success {
			res.Routes = append(res.Routes, sr.Routes...)
			res.AlgorithmUsed = sr.AlgorithmUsed
			res.FallbackUsed = sr.FallbackUsed
			res.ObjectiveValue += sr.ObjectiveValue
			res.UnassignedDeliveries = sr.UnassignedDeliveries
			res.Message = sr.Message
		} else {
			for _, d := range shared {
				res.UnassignedDeliveries = append(res.UnassignedDeliveries, d.ID)
			}
			sort.Strings(res.UnassignedDeliveries)
			res.Message = fmt.Sprintf("%d deliveries could not be assigned: %s", len(shared), sr.Message)
		}
	}

	for _, r := range res.Routes {
		res.TotalDistanceKm += r.TotalDistanceKm
		res.TotalDurationMin += r.TotalDurationMin
		res.TotalCost += p.solver.Cost(r)
	}
	res.OptimizationTime = time.Since(start)
	return res, nil
}

func (p *Planner) StartRouteMonitoring(ctx context.Context, routes []model.Route) error {
	if p.monitor == nil {
		return ErrMonitoringDisabled
	}
	p.monitor.StartRouteMonitoring(ctx, routes)
	return nil
}

// StopRouteMonitoring reports whether the route was being monitored.
func (p *Planner) StopRouteMonitoring(routeID string) bool {
	if p.monitor == nil {
		return false
	}
	return p.monitor.StopRouteMonitoring(routeID)
}

// ReOptimize runs a manual re-optimisation of the given routes.
func (p *Planner) ReOptimize(ctx context.Context, reason string, routeIDs ...string) (model.ReOptimizationResult, error) {
	if p.monitor == nil {
		return model.ReOptimizationResult{}, ErrMonitoringDisabled
	}
	return p.monitor.PerformIncrementalReOptimization(ctx, model.ReOptimizationTrigger{
		Type:             model.TriggerManual,
		Severity:         model.SeverityHigh,
		Description:      reason,
		AffectedRouteIDs: routeIDs,
		Timestamp:        p.now(),
	})
}
