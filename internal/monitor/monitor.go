// Package monitor watches active routes for traffic, vehicle, delivery and
// compliance drift and re-optimises them when the drift is severe enough.
//
// Every monitored route runs its own loop. A cycle issues the probes
// concurrently, joins them, then dispatches: high and critical triggers are
// re-optimised before the cycle returns, the rest are published as one batch.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"cityroute/internal/broadcast"
	"cityroute/internal/compliance"
	"cityroute/internal/events"
	"cityroute/internal/logger"
	"cityroute/internal/metrics"
	"cityroute/internal/model"
)

type Config struct {
	Interval         time.Duration
	FrequencyCap     int
	FrequencyWindow  time.Duration
	TrafficThreshold float64
	DeviationKm      float64
	AlertRadiusKm    float64
	PlanningHorizon  time.Duration
	ReoptMaxSeconds  float64
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		FrequencyCap:     3,
		FrequencyWindow:  60 * time.Minute,
		TrafficThreshold: 0.25,
		DeviationKm:      2,
		AlertRadiusKm:    1,
		PlanningHorizon:  12 * time.Hour,
		ReoptMaxSeconds:  5,
	}
}

type Params struct {
	Config      Config
	Solver      Optimizer
	Traffic     TrafficService
	Fleet       FleetService
	Deliveries  DeliverySource
	Rules       compliance.Source
	Evaluator   *compliance.Evaluator
	Broadcaster *broadcast.Broadcaster
	Events      events.Publisher
	Logger      *logger.Logger
	Metrics     *metrics.Engine
	Now         func() time.Time
}

// watch is the state of one monitored route.
type watch struct {
	cancel context.CancelFunc

	// reopt serialises re-optimisations touching this route.
	reopt sync.Mutex

	// guarded by Monitor.mu
	route     model.Route
	compliant *bool
	lastCycle time.Time
	alerts    map[string]struct{}
}

type Monitor struct {
	cfg         Config
	solver      Optimizer
	traffic     TrafficService
	fleet       FleetService
	deliveries  DeliverySource
	rules       compliance.Source
	evaluator   *compliance.Evaluator
	broadcaster *broadcast.Broadcaster
	events      events.Publisher
	log         *logger.Logger
	metrics     *metrics.Engine
	now         func() time.Time

	freq  *frequencyStore
	cache *segmentCache

	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	watches map[string]*watch
}

func New(p Params) *Monitor {
	cfg := p.Config
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FrequencyCap <= 0 {
		cfg.FrequencyCap = def.FrequencyCap
	}
	if cfg.FrequencyWindow <= 0 {
		cfg.FrequencyWindow = def.FrequencyWindow
	}
	if cfg.TrafficThreshold <= 0 {
		cfg.TrafficThreshold = def.TrafficThreshold
	}
	if cfg.DeviationKm <= 0 {
		cfg.DeviationKm = def.DeviationKm
	}
	if cfg.AlertRadiusKm <= 0 {
		cfg.AlertRadiusKm = def.AlertRadiusKm
	}
	if cfg.PlanningHorizon <= 0 {
		cfg.PlanningHorizon = def.PlanningHorizon
	}
	if cfg.ReoptMaxSeconds <= 0 {
		cfg.ReoptMaxSeconds = def.ReoptMaxSeconds
	}
	m := &Monitor{
		cfg:         cfg,
		solver:      p.Solver,
		traffic:     p.Traffic,
		fleet:       p.Fleet,
		deliveries:  p.Deliveries,
		rules:       p.Rules,
		evaluator:   p.Evaluator,
		broadcaster: p.Broadcaster,
		events:      p.Events,
		log:         p.Logger,
		metrics:     p.Metrics,
		now:         p.Now,
		freq:        newFrequencyStore(cfg.FrequencyWindow),
		cache:       newSegmentCache(cfg.FrequencyWindow),
		watches:     map[string]*watch{},
	}
	if m.evaluator == nil {
		m.evaluator = compliance.NewEvaluator()
	}
	if m.broadcaster == nil {
		m.broadcaster = broadcast.New()
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.base, m.stop = context.WithCancel(context.Background())
	return m
}

// StartRouteMonitoring begins watching routes. A route already watched has its
// held value replaced and its loop restarted.
func (m *Monitor) StartRouteMonitoring(ctx context.Context, routes []model.Route) {
	if len(routes) == 0 {
		return
	}
	for _, r := range routes {
		m.startWatch(r)
	}
	m.log.Info(m.log.WithField(ctx, "routes", len(routes)), "route monitoring started")
	evt := events.New(events.KindMonitoringStarted)
	evt.RouteCount = len(routes)
	m.publish(ctx, evt)
}

// StopRouteMonitoring stops the route's loop and drops its cached state. An
// in-flight re-optimisation is not aborted; its result for this route is discarded.
func (m *Monitor) StopRouteMonitoring(routeID string) bool {
	m.mu.Lock()
	w, ok := m.watches[routeID]
	if ok {
		delete(m.watches, routeID)
	}
	n := len(m.watches)
	m.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	m.cache.dropRoute(routeID)
	m.metrics.SetMonitoredRoutes(n)
	return true
}

// Close stops every watch and waits for running cycles to return.
func (m *Monitor) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.StopRouteMonitoring(id)
	}
	m.stop()
	m.wg.Wait()
}

// Routes returns the held routes, ordered by id.
func (m *Monitor) Routes() []model.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Route, 0, len(m.watches))
	for _, w := range m.watches {
		out = append(out, w.route.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Monitor) Route(id string) (model.Route, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[id]
	if !ok {
		return model.Route{}, false
	}
	return w.route.Clone(), true
}

func (m *Monitor) startWatch(r model.Route) {
	m.StopRouteMonitoring(r.ID)

	ctx, cancel := context.WithCancel(m.base)
	w := &watch{cancel: cancel, route: r.Clone(), lastCycle: m.now(), alerts: map[string]struct{}{}}
	if !r.Compliance.CheckedAt.IsZero() {
		c := r.Compliance.IsCompliant
		w.compliant = &c
	}
	m.mu.Lock()
	m.watches[r.ID] = w
	n := len(m.watches)
	m.mu.Unlock()
	m.metrics.SetMonitoredRoutes(n)

	m.wg.Add(1)
	go m.loop(ctx, r.ID)
}

// loop runs cycles until the watch is cancelled. A cycle that overruns the
// interval delays the next tick rather than overlapping it.
func (m *Monitor) loop(ctx context.Context, routeID string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	ctx = m.log.WithRouteID(ctx, routeID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx, routeID)
		}
	}
}

// cycle runs one detection pass for a route and dispatches what it finds.
func (m *Monitor) cycle(ctx context.Context, routeID string) {
	m.cache.evictBefore(m.now().Add(-m.cfg.FrequencyWindow))
	triggers := m.detect(ctx, routeID)
	if len(triggers) == 0 {
		return
	}
	var batch []model.ReOptimizationTrigger
	for _, t := range triggers {
		m.metrics.IncTrigger(string(t.Type), string(t.Severity))
		if !t.Severity.Immediate() {
			batch = append(batch, t)
			continue
		}
		tctx := m.log.WithFields(ctx, map[string]any{"trigger_type": t.Type, "severity": t.Severity})
		res, err := m.PerformIncrementalReOptimization(tctx, t)
		if err != nil {
			m.log.Warn(tctx, "re-optimization failed", err)
			continue
		}
		m.log.Info(m.log.WithField(tctx, "updated_routes", len(res.UpdatedRoutes)), "re-optimization completed")
	}
	if len(batch) > 0 {
		evt := events.New(events.KindTriggersDetected)
		evt.Triggers = batch
		m.publish(ctx, evt)
	}
}

func (m *Monitor) publish(ctx context.Context, evt events.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, evt); err != nil {
		m.log.Warn(m.log.WithField(ctx, "event", evt.Kind), "event publish failed", err)
	}
}
