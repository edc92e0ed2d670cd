// Package opt assigns deliveries to vehicles and orders their stops. A ranked
// list of strategies is tried in order: the bounded-time ALNS search first, the
// deterministic nearest-neighbour construction as fallback.
package opt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"cityroute/internal/compliance"
	"cityroute/internal/logger"
	"cityroute/internal/metrics"
	"cityroute/internal/model"
)

const (
	MsgNoVehicles       = "No vehicles provided"
	MsgNoDeliveries     = "No deliveries provided"
	MsgInvalidWindow    = "Invalid time window"
	MsgNoAvailable      = "No available vehicles"
	MsgWeightExceeded   = "Total delivery weight (%.2f kg) exceeds total vehicle capacity (%.2f kg)"
	MsgVolumeExceeded   = "Total delivery volume (%.2f m3) exceeds total vehicle capacity (%.2f m3)"
	MsgNoFeasible       = "No feasible assignment found"
	defaultWindowLength = 24 * time.Hour
)

// Config holds solver defaults applied where a request leaves options unset.
type Config struct {
	MaxSeconds      float64
	MaxIterations   int
	Seed            int64
	AverageSpeedKph float64
	ServiceMinutes  int
	FuelPrice       float64
	CostPerKm       float64
}

func DefaultConfig() Config {
	return Config{
		MaxSeconds:      10,
		MaxIterations:   200,
		Seed:            1,
		AverageSpeedKph: 25,
		ServiceMinutes:  5,
		FuelPrice:       1.0,
		CostPerKm:       0.5,
	}
}

type Params struct {
	Config     Config
	Strategies []Strategy
	Evaluator  *compliance.Evaluator
	Logger     *logger.Logger
	Metrics    *metrics.Engine
	Now        func() time.Time
}

type Solver struct {
	cfg        Config
	strategies []Strategy
	evaluator  *compliance.Evaluator
	log        *logger.Logger
	metrics    *metrics.Engine
	validate   *validator.Validate
	stats      *statsStore
	now        func() time.Time
}

func New(p Params) *Solver {
	cfg := p.Config
	def := DefaultConfig()
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = def.MaxSeconds
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.AverageSpeedKph <= 0 {
		cfg.AverageSpeedKph = def.AverageSpeedKph
	}
	if cfg.ServiceMinutes <= 0 {
		cfg.ServiceMinutes = def.ServiceMinutes
	}
	if cfg.FuelPrice <= 0 {
		cfg.FuelPrice = def.FuelPrice
	}
	if cfg.CostPerKm <= 0 {
		cfg.CostPerKm = def.CostPerKm
	}
	s := &Solver{
		cfg:        cfg,
		strategies: p.Strategies,
		evaluator:  p.Evaluator,
		log:        p.Logger,
		metrics:    p.Metrics,
		validate:   newValidator(),
		stats:      newStatsStore(),
		now:        p.Now,
	}
	if len(s.strategies) == 0 {
		s.strategies = DefaultStrategies()
	}
	if s.evaluator == nil {
		s.evaluator = compliance.NewEvaluator()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Cost prices a route: fuel litres at FuelPrice plus distance at CostPerKm.
func (s *Solver) Cost(r model.Route) float64 {
	return r.FuelLitres*s.cfg.FuelPrice + r.TotalDistanceKm*s.cfg.CostPerKm
}

// LastRuns returns the metrics of the most recent run of each strategy.
func (s *Solver) LastRuns() map[string]Metrics { return s.stats.snapshot() }

// Available returns the vehicles a solve may use. An unset status counts as available.
func Available(vehicles []model.Vehicle) []model.Vehicle {
	out := make([]model.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if v.Status == model.StatusAvailable || v.Status == "" {
			out = append(out, v)
		}
	}
	return out
}

// Precheck runs the business preconditions in order and returns the failure
// message of the first one that does not hold, or "".
func Precheck(req model.RoutingRequest) string {
	if len(req.Vehicles) == 0 {
		return MsgNoVehicles
	}
	if len(req.Deliveries) == 0 {
		return MsgNoDeliveries
	}
	if !req.TimeWindow.IsZero() && !req.TimeWindow.Earliest.Before(req.TimeWindow.Latest) {
		return MsgInvalidWindow
	}
	avail := Available(req.Vehicles)
	if len(avail) == 0 {
		return MsgNoAvailable
	}
	var capW, capV, needW, needV float64
	for _, v := range avail {
		capW += v.Capacity.WeightKg
		capV += v.Capacity.VolumeM3
	}
	for _, d := range req.Deliveries {
		needW += d.Shipment.WeightKg
		needV += d.Shipment.VolumeM3
	}
	if needW > capW {
		return fmt.Sprintf(MsgWeightExceeded, needW, capW)
	}
	if needV > capV {
		return fmt.Sprintf(MsgVolumeExceeded, needV, capV)
	}
	return ""
}

// Validate reports structural faults in req, such as out-of-range coordinates
// or missing ids, wrapped in ErrInvalidRequest.
func (s *Solver) Validate(req model.RoutingRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// Optimize solves a routing request. Business failures come back as a result
// with Success=false and a stable message; only structurally malformed input
// returns an error.
func (s *Solver) Optimize(ctx context.Context, req model.RoutingRequest) (res model.RoutingResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveSolve(res.AlgorithmUsed, res.FallbackUsed, res.Success, time.Since(start))
	}()

	if msg := Precheck(req); msg != "" {
		return model.Failed(msg), nil
	}
	if err := s.Validate(req); err != nil {
		return model.RoutingResult{}, err
	}

	req = s.normalize(req)
	ctx = s.log.WithFields(ctx, map[string]any{"vehicles": len(req.Vehicles), "deliveries": len(req.Deliveries)})

	var parts []groupResult
	if req.Constraints.HubSequencing && len(req.Hubs) > 0 {
		parts = s.solveHubs(ctx, req)
	} else {
		parts = []groupResult{s.solveGroup(ctx, req, Available(req.Vehicles), req.Deliveries, nil, "")}
	}
	res = s.assemble(req, parts)
	res.OptimizationTime = time.Since(start)
	return res, nil
}

// normalize fills defaults: constraints, window, options and a stable order.
func (s *Solver) normalize(req model.RoutingRequest) model.RoutingRequest {
	if req.Constraints == (model.Constraints{}) {
		req.Constraints = model.DefaultConstraints()
	}
	if req.TimeWindow.IsZero() {
		now := s.now()
		req.TimeWindow = model.TimeWindow{Earliest: now, Latest: now.Add(defaultWindowLength)}
	}
	o := &req.Options
	if o.MaxSeconds <= 0 {
		o.MaxSeconds = s.cfg.MaxSeconds
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = s.cfg.MaxIterations
	}
	if o.Seed == 0 {
		o.Seed = s.cfg.Seed
	}
	if o.AverageSpeedKph <= 0 {
		o.AverageSpeedKph = s.cfg.AverageSpeedKph
	}
	if o.ServiceMinutes <= 0 {
		o.ServiceMinutes = s.cfg.ServiceMinutes
	}
	vehicles := append([]model.Vehicle(nil), req.Vehicles...)
	sort.SliceStable(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })
	req.Vehicles = vehicles
	deliveries := append([]model.Delivery(nil), req.Deliveries...)
	sort.SliceStable(deliveries, func(i, j int) bool {
		a, b := deliveries[i], deliveries[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.ID < b.ID
	})
	req.Deliveries = deliveries
	return req
}

// groupResult is the outcome of solving one set of deliveries.
type groupResult struct {
	problem    *Problem
	outcome    Outcome
	algorithm  string
	fallback   bool
	err        error
	hubID      string
	unassigned []string
}

// buildProblem turns request data into a Problem. starts overrides a vehicle's
// start point and time, keyed by vehicle id.
func (s *Solver) buildProblem(req model.RoutingRequest, vehicles []model.Vehicle, deliveries []model.Delivery, starts map[string]planEnd) *Problem {
	o := req.Options
	p := &Problem{
		Constraints:   req.Constraints,
		Horizon:       req.TimeWindow.Latest,
		MaxIterations: o.MaxIterations,
		Seed:          o.Seed,
		TimeBudget:    time.Duration(o.MaxSeconds * float64(time.Second)),
		FirstSolution: o.FirstSolution,
		Metaheuristic: o.Metaheuristic,
	}
	for _, v := range vehicles {
		fv := Vehicle{Vehicle: v, Start: v.Location, StartAt: req.TimeWindow.Earliest, SpeedKph: v.SpeedKph}
		if fv.SpeedKph <= 0 {
			fv.SpeedKph = o.AverageSpeedKph
		}
		if st, ok := starts[v.ID]; ok {
			fv.Start, fv.StartAt = st.at, st.t
		}
		p.Vehicles = append(p.Vehicles, fv)
	}
	for _, d := range deliveries {
		svc := d.ServiceMinutes
		if svc <= 0 {
			svc = o.ServiceMinutes
		}
		p.Tasks = append(p.Tasks, Task{
			Delivery: d,
			Weight:   d.Shipment.WeightKg,
			Volume:   d.Shipment.VolumeM3,
			Service:  time.Duration(svc) * time.Minute,
		})
	}
	carriers := make(map[string]int)
	for vi, v := range p.Vehicles {
		for _, id := range v.OnBoard {
			carriers[id] = vi
		}
	}
	for ti := range p.Tasks {
		if vi, ok := carriers[p.Tasks[ti].Delivery.ID]; ok {
			p.Tasks[ti].OnBoard, p.Tasks[ti].Carrier = true, vi
		}
	}

	static, timed := splitTimedRules(req.Rules)
	p.Allowed = make([][]bool, len(p.Vehicles))
	p.Penalty = make([][]float64, len(p.Vehicles))
	for vi, v := range p.Vehicles {
		p.Allowed[vi] = make([]bool, len(p.Tasks))
		p.Penalty[vi] = make([]float64, len(p.Tasks))
		untimed := v.Vehicle
		untimed.Compliance.TimeRestrictions = nil
		for ti, t := range p.Tasks {
			if t.OnBoard {
				p.Allowed[vi][ti] = t.Carrier == vi
				continue
			}
			if !req.Constraints.Compliance {
				p.Allowed[vi][ti] = true
				continue
			}
			at := t.Delivery.TimeWindow.Earliest
			if at.IsZero() || at.Before(v.StartAt) {
				at = v.StartAt
			}
			// time-of-day rules are checked per visit in schedule
			p.Allowed[vi][ti] = s.evaluator.EvaluateAssignment(untimed, t.Delivery, at, static).IsCompliant
			p.Penalty[vi][ti] = s.evaluator.EvaluateAssignment(v.Vehicle, t.Delivery, at, req.Rules).Penalty
		}
	}
	if req.Constraints.Compliance && (len(timed) > 0 || anyTimeRestricted(p.Vehicles)) {
		p.visitOK = s.visitCheck(p, timed)
	}
	return p
}

// splitTimedRules separates the rules that depend on the time of a visit (time
// restrictions and odd-even) from the rest.
func splitTimedRules(rules []model.RuleSet) (static, timed []model.RuleSet) {
	for _, rs := range rules {
		if !rs.Active {
			continue
		}
		st := rs
		st.TimeRestrictions, st.OddEven = nil, nil
		static = append(static, st)
		if len(rs.TimeRestrictions) > 0 || rs.OddEven != nil {
			timed = append(timed, model.RuleSet{
				ID: rs.ID, Name: rs.Name, Active: true,
				TimeRestrictions: rs.TimeRestrictions, OddEven: rs.OddEven,
			})
		}
	}
	return static, timed
}

func anyTimeRestricted(vehicles []Vehicle) bool {
	for _, v := range vehicles {
		if len(v.Compliance.TimeRestrictions) > 0 {
			return true
		}
	}
	return false
}

type visitKey struct {
	vehicle, stop int
	at            int64
}

// visitCheck evaluates the timed rules and the vehicle's own operating bans for
// one stop at one arrival time. Results are memoised, so the returned func is
// not safe for concurrent use.
func (s *Solver) visitCheck(p *Problem, timed []model.RuleSet) func(v, stop int, at time.Time) bool {
	seen := make(map[visitKey]bool)
	return func(v, stop int, at time.Time) bool {
		k := visitKey{vehicle: v, stop: stop, at: at.UnixNano()}
		if ok, hit := seen[k]; hit {
			return ok
		}
		d := p.Tasks[taskOf(stop)].Delivery
		res := s.evaluator.Evaluate(p.Vehicles[v].Vehicle, []compliance.StopCheck{{
			Seq: 1, DeliveryID: d.ID, Location: p.stopPoint(stop), At: at, Shipment: d.Shipment,
		}}, timed)
		ok := len(res.Violations) == 0
		seen[k] = ok
		return ok
	}
}

func (s *Solver) solveGroup(ctx context.Context, req model.RoutingRequest, vehicles []model.Vehicle, deliveries []model.Delivery, starts map[string]planEnd, hubID string) groupResult {
	p := s.buildProblem(req, vehicles, deliveries, starts)
	g := groupResult{problem: p, hubID: hubID}
	g.outcome, g.algorithm, g.fallback, g.err = s.run(ctx, p, req.Options.DisableFallback)
	if g.err != nil {
		for _, d := range deliveries {
			g.unassigned = append(g.unassigned, d.ID)
		}
		return g
	}
	for _, t := range g.outcome.Solution.Unassigned(p) {
		g.unassigned = append(g.unassigned, p.Tasks[t].Delivery.ID)
	}
	return g
}

// run tries each strategy in rank order. When none succeeds outright, the
// partial solution serving the most deliveries is used.
func (s *Solver) run(ctx context.Context, p *Problem, disableFallback bool) (Outcome, string, bool, error) {
	strategies := s.strategies
	if disableFallback {
		strategies = strategies[:1]
	}
	var (
		partial     Outcome
		partialName string
		partialIdx  = -1
		partialN    = 0
	)
	for i, st := range strategies {
		out, err := st.Solve(ctx, p)
		s.stats.record(st.Name(), out.Metrics)
		if err == nil {
			return out, st.Name(), i > 0, nil
		}
		s.log.Warn(ctx, fmt.Sprintf("strategy %s did not produce a complete plan", st.Name()), err)
		if len(out.Solution.Plans) == 0 {
			continue
		}
		if n := len(p.Tasks) - len(out.Solution.Unassigned(p)); n > partialN {
			partial, partialName, partialIdx, partialN = out, st.Name(), i, n
		}
	}
	if partialIdx >= 0 {
		return partial, partialName, partialIdx > 0, nil
	}
	return Outcome{}, "", false, ErrInfeasible
}

// assemble materialises the routes of every group into one result.
func (s *Solver) assemble(req model.RoutingRequest, parts []groupResult) model.RoutingResult {
	res := model.RoutingResult{Routes: []model.Route{}}
	for _, g := range parts {
		res.UnassignedDeliveries = append(res.UnassignedDeliveries, g.unassigned...)
		if g.err != nil {
			continue
		}
		if res.AlgorithmUsed == "" || g.fallback {
			res.AlgorithmUsed = g.algorithm
		}
		res.FallbackUsed = res.FallbackUsed || g.fallback
		res.ObjectiveValue += g.outcome.Solution.Cost - unassignedPenalty*float64(len(g.unassigned))
		meta := model.OptimizationMeta{
			Algorithm:    g.algorithm,
			Iterations:   g.outcome.Iterations,
			FallbackUsed: g.fallback,
			OptimizedAt:  s.now(),
		}
		res.Routes = append(res.Routes, s.materialize(g.problem, g.outcome.Solution, meta, g.hubID, req.Rules)...)
	}
	if len(res.Routes) == 0 {
		out := model.Failed(MsgNoFeasible)
		out.AlgorithmUsed = res.AlgorithmUsed
		out.FallbackUsed = res.FallbackUsed
		out.UnassignedDeliveries = res.UnassignedDeliveries
		return out
	}
	for _, r := range res.Routes {
		res.TotalDistanceKm += r.TotalDistanceKm
		res.TotalDurationMin += r.TotalDurationMin
		res.TotalCost += s.Cost(r)
	}
	res.Success = true
	if n := len(res.UnassignedDeliveries); n > 0 {
		sort.Strings(res.UnassignedDeliveries)
		res.Message = fmt.Sprintf("%d deliveries could not be assigned", n)
	}
	return res
}
