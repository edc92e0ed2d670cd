// Package premium assigns dedicated, unshared vehicles to premium deliveries.
package premium

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"cityroute/internal/compliance"
	"cityroute/internal/geo"
	"cityroute/internal/logger"
	"cityroute/internal/model"
	"cityroute/internal/opt"
)

const (
	MsgNoEligibleVehicles = "No vehicles available for premium dedicated service"
	Algorithm             = "premium_dedicated"
)

var ErrNoEligibleVehicles = errors.New(MsgNoEligibleVehicles)

// Fuel-efficiency class per fuel type, 1 best.
var fuelScore = map[model.FuelType]float64{
	model.FuelElectric: 1.0,
	model.FuelCNG:      0.75,
	model.FuelHybrid:   0.6,
	model.FuelPetrol:   0.5,
	model.FuelDiesel:   0.25,
}

var idleScore = map[model.VehicleStatus]float64{
	model.StatusAvailable: 1.0,
	"":                    1.0,
	model.StatusLoading:   0.4,
}

type Config struct {
	MinCapacityKg      float64
	MaxVehicleAgeYears int
	SafetyMargin       time.Duration
	// Scoring weights for proximity, fuel efficiency and idle status.
	ProximityWeight float64
	FuelWeight      float64
	IdleWeight      float64
	// RestrictedZones require an explicit ZoneAccess grant on the vehicle.
	RestrictedZones []string
	SpeedKph        float64
	ServiceMinutes  int
}

func DefaultConfig() Config {
	return Config{
		MaxVehicleAgeYears: 8,
		SafetyMargin:       15 * time.Minute,
		ProximityWeight:    0.5,
		FuelWeight:         0.3,
		IdleWeight:         0.2,
		SpeedKph:           25,
		ServiceMinutes:     5,
	}
}

type Allocator struct {
	cfg       Config
	evaluator *compliance.Evaluator
	log       *logger.Logger
	now       func() time.Time
}

func New(cfg Config, ev *compliance.Evaluator, log *logger.Logger) *Allocator {
	if cfg.SpeedKph <= 0 {
		cfg.SpeedKph = 25
	}
	if cfg.ServiceMinutes <= 0 {
		cfg.ServiceMinutes = 5
	}
	if cfg.ProximityWeight == 0 && cfg.FuelWeight == 0 && cfg.IdleWeight == 0 {
		d := DefaultConfig()
		cfg.ProximityWeight, cfg.FuelWeight, cfg.IdleWeight = d.ProximityWeight, d.FuelWeight, d.IdleWeight
	}
	if ev == nil {
		ev = compliance.NewEvaluator()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Allocator{cfg: cfg, evaluator: ev, log: log, now: time.Now}
}

// IsPremium reports whether d needs a dedicated vehicle.
func IsPremium(d model.Delivery, premiumCustomers []string) bool {
	return d.ServiceType == model.ServiceDedicatedPremium ||
		d.Priority == model.PriorityUrgent ||
		(d.CustomerID != "" && slices.Contains(premiumCustomers, d.CustomerID))
}

// Partition splits deliveries into premium and shared, preserving input order.
func Partition(deliveries []model.Delivery, premiumCustomers []string) (premium, shared []model.Delivery) {
	for _, d := range deliveries {
		if IsPremium(d, premiumCustomers) {
			premium = append(premium, d)
		} else {
			shared = append(shared, d)
		}
	}
	return premium, shared
}

// Result holds the dedicated routes and the vehicles left for shared work.
type Result struct {
	Routes      []model.Route
	Allocations []model.PremiumRouteAllocation
	Remaining   []model.Vehicle
}

// Allocate serves each premium delivery with its own vehicle, urgent first.
// Vehicles are dispatched at start; a vehicle qualifies only if its dedicated
// route complies with rules and reaches the drop inside the guaranteed
// window. It fails with ErrNoEligibleVehicles as soon
// as one delivery has no qualifying vehicle left.
func (a *Allocator) Allocate(ctx context.Context, deliveries []model.Delivery, vehicles []model.Vehicle, rules []model.RuleSet, start time.Time) (Result, error) {
	ordered := append([]model.Delivery(nil), deliveries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		x, y := ordered[i], ordered[j]
		if x.Priority.Rank() != y.Priority.Rank() {
			return x.Priority.Rank() < y.Priority.Rank()
		}
		if !x.TimeWindow.Earliest.Equal(y.TimeWindow.Earliest) {
			return x.TimeWindow.Earliest.Before(y.TimeWindow.Earliest)
		}
		return x.ID < y.ID
	})
	pool := append([]model.Vehicle(nil), vehicles...)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	var res Result
	for _, d := range ordered {
		var (
			best  = -1
			score = -1.0
			route model.Route
		)
		for i, v := range pool {
			if !a.eligible(v, d) {
				continue
			}
			s := a.Score(v, d)
			if s <= score+1e-12 {
				continue
			}
			r := a.dedicatedRoute(v, d, rules, start)
			if !r.Compliance.IsCompliant || !a.meetsGuarantee(r, d) {
				continue
			}
			best, score, route = i, s, r
		}
		if best < 0 {
			a.log.Warn(ctx, fmt.Sprintf("no dedicated vehicle qualifies for delivery %s", d.ID), nil)
			return Result{}, fmt.Errorf("premium delivery %s: %w", d.ID, ErrNoEligibleVehicles)
		}
		v := pool[best]
		pool = append(pool[:best], pool[best+1:]...)
		res.Routes = append(res.Routes, route)
		res.Allocations = append(res.Allocations, model.PremiumRouteAllocation{
			RouteID:           route.ID,
			DeliveryID:        d.ID,
			PremiumCustomerID: d.CustomerID,
			VehicleID:         v.ID,
			Dedicated:         true,
			Exclusive:         true,
			PriorityLevel:     d.Priority,
			GuaranteedWindow:  a.guaranteedWindow(d.TimeWindow),
			Score:             score,
		})
	}
	res.Remaining = pool
	return res, nil
}

// eligible holds the vehicle-level requirements. Rules and timing are checked on
// the dedicated route itself.
func (a *Allocator) eligible(v model.Vehicle, d model.Delivery) bool {
	if _, ok := idleScore[v.Status]; !ok {
		return false
	}
	minKg := max(a.cfg.MinCapacityKg, d.Shipment.WeightKg)
	if v.Capacity.WeightKg < minKg || v.Capacity.VolumeM3 < d.Shipment.VolumeM3 {
		return false
	}
	if a.cfg.MaxVehicleAgeYears > 0 && v.ManufactureYear > 0 && a.now().Year()-v.ManufactureYear > a.cfg.MaxVehicleAgeYears {
		return false
	}
	for _, z := range []string{d.Pickup.ZoneID, d.Drop.ZoneID} {
		if z == "" {
			continue
		}
		if slices.Contains(v.Compliance.ZoneRestrictions, z) {
			return false
		}
		if slices.Contains(a.cfg.RestrictedZones, z) && !v.HasZoneAccess(z) {
			return false
		}
	}
	return true
}

// meetsGuarantee reports whether the drop is reached by the end of the
// guaranteed window.
func (a *Allocator) meetsGuarantee(r model.Route, d model.Delivery) bool {
	g := a.guaranteedWindow(d.TimeWindow)
	if g.Latest.IsZero() || len(r.Stops) == 0 {
		return true
	}
	return !r.Stops[len(r.Stops)-1].EstimatedArrival.After(g.Latest)
}

// Score is the weighted sum of proximity to the pickup, fuel efficiency and
// idle status, each normalised to [0,1].
func (a *Allocator) Score(v model.Vehicle, d model.Delivery) float64 {
	km := geo.DistanceKm(v.Location, d.Pickup.GeoPoint)
	proximity := 1 / (1 + km)
	return a.cfg.ProximityWeight*proximity + a.cfg.FuelWeight*fuelScore[v.FuelType] + a.cfg.IdleWeight*idleScore[v.Status]
}

func (a *Allocator) guaranteedWindow(w model.TimeWindow) model.TimeWindow {
	if w.Latest.IsZero() {
		return w
	}
	out := model.TimeWindow{Earliest: w.Earliest, Latest: w.Latest.Add(-a.cfg.SafetyMargin)}
	if out.Latest.Before(out.Earliest) {
		out.Latest = out.Earliest
	}
	return out
}

func (a *Allocator) dedicatedRoute(v model.Vehicle, d model.Delivery, rules []model.RuleSet, start time.Time) model.Route {
	speed := v.SpeedKph
	if speed <= 0 {
		speed = a.cfg.SpeedKph
	}
	svcMin := d.ServiceMinutes
	if svcMin <= 0 {
		svcMin = a.cfg.ServiceMinutes
	}
	service := time.Duration(svcMin) * time.Minute
	leg := func(from, to model.GeoPoint) (float64, time.Duration) {
		km := geo.DistanceKm(from, to)
		return km, time.Duration(geo.TravelMinutes(km, speed) * float64(time.Minute))
	}

	km1, t1 := leg(v.Location, d.Pickup.GeoPoint)
	pickupAt := start.Add(t1)
	km2, t2 := leg(d.Pickup.GeoPoint, d.Drop.GeoPoint)
	dropAt := pickupAt.Add(service).Add(t2)
	if dropAt.Before(d.TimeWindow.Earliest) {
		dropAt = d.TimeWindow.Earliest
	}
	km := km1 + km2
	r := model.Route{
		ID:        uuid.NewString(),
		Version:   1,
		VehicleID: v.ID,
		DriverID:  v.Driver.ID,
		Stops: []model.Stop{
			{Sequence: 1, Location: d.Pickup, Type: model.StopPickup, DeliveryID: d.ID, EstimatedArrival: pickupAt, EstimatedDepart: pickupAt.Add(service), Status: model.StopPending},
			{Sequence: 2, Location: d.Drop, Type: model.StopDelivery, DeliveryID: d.ID, EstimatedArrival: dropAt, EstimatedDepart: dropAt.Add(service), Status: model.StopPending},
		},
		TotalDistanceKm:  km,
		TotalDurationMin: dropAt.Add(service).Sub(start).Minutes(),
		FuelLitres:       opt.FuelLitres(v, km),
		Status:           model.RoutePlanned,
		Optimization:     model.OptimizationMeta{Algorithm: Algorithm, OptimizedAt: a.now()},
	}
	r.Compliance = a.evaluator.EvaluateRoute(v, r, map[string]model.Delivery{d.ID: d}, rules)
	return r
}
