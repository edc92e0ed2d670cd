package opt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/model"
)

var day = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func loc(lat, lng float64) model.Location {
	return model.Location{GeoPoint: model.GeoPoint{Lat: lat, Lng: lng}, ZoneID: "C1", ZoneType: "commercial"}
}

func van(id string, lat, lng, capKg float64) model.Vehicle {
	return model.Vehicle{
		ID: id, Type: model.VehicleVan, PlateNumber: "DL01AB1234", Status: model.StatusAvailable,
		Capacity: model.Capacity{WeightKg: capKg, VolumeM3: 10},
		Location: model.GeoPoint{Lat: lat, Lng: lng}, FuelType: model.FuelDiesel, FuelRateLPerKm: 0.1,
		Compliance: model.VehicleCompliance{PollutionClass: 6, PermitValid: true},
	}
}

func delivery(id string, pickup, drop model.Location, kg float64) model.Delivery {
	return model.Delivery{
		ID: id, Pickup: pickup, Drop: drop, Priority: model.PriorityMedium,
		TimeWindow: model.TimeWindow{Earliest: at(8, 0), Latest: at(18, 0)},
		Shipment:   model.Shipment{WeightKg: kg, VolumeM3: 0.1},
	}
}

func request(vehicles []model.Vehicle, deliveries []model.Delivery) model.RoutingRequest {
	return model.RoutingRequest{
		Vehicles:    vehicles,
		Deliveries:  deliveries,
		Constraints: model.DefaultConstraints(),
		TimeWindow:  model.TimeWindow{Earliest: at(8, 0), Latest: at(20, 0)},
		Options:     model.Options{MaxSeconds: 30, MaxIterations: 30, Seed: 7},
	}
}

func cityDeliveries(n int, kg float64) []model.Delivery {
	out := make([]model.Delivery, 0, n)
	for i := 0; i < n; i++ {
		off := float64(i) * 0.004
		out = append(out, delivery(fmt.Sprintf("D%02d", i),
			loc(28.60+off, 77.20-off), loc(28.62-off, 77.23+off), kg))
	}
	return out
}

func TestPreconditionMessages(t *testing.T) {
	d1 := delivery("D1", loc(28.6, 77.2), loc(28.61, 77.21), 10)
	broken := van("V2", 28.6, 77.2, 100)
	broken.Status = model.StatusMaintenance

	cases := []struct {
		name string
		req  model.RoutingRequest
		want string
	}{
		{"no vehicles", request(nil, []model.Delivery{d1}), "No vehicles provided"},
		{"no deliveries", request([]model.Vehicle{van("V1", 28.6, 77.2, 100)}, nil), "No deliveries provided"},
		{"reversed window", func() model.RoutingRequest {
			r := request([]model.Vehicle{van("V1", 28.6, 77.2, 100)}, []model.Delivery{d1})
			r.TimeWindow = model.TimeWindow{Earliest: at(18, 0), Latest: at(8, 0)}
			return r
		}(), "Invalid time window"},
		{"none available", request([]model.Vehicle{broken}, []model.Delivery{d1}), "No available vehicles"},
	}
	s := New(Params{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.Optimize(context.Background(), tc.req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Message)
			assert.NotNil(t, res.Routes)
			assert.Empty(t, res.Routes)
		})
	}
}

func TestCapacityPreconditionReportsTotals(t *testing.T) {
	vehicles := []model.Vehicle{van("V1", 28.6, 77.2, 2000), van("V2", 28.6, 77.2, 2000)}
	deliveries := []model.Delivery{
		delivery("D1", loc(28.6, 77.2), loc(28.61, 77.21), 2500),
		delivery("D2", loc(28.6, 77.2), loc(28.61, 77.21), 2500),
	}
	res, err := New(Params{}).Optimize(context.Background(), request(vehicles, deliveries))
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Contains(t, res.Message, "exceeds total vehicle capacity")
	assert.Equal(t, "Total delivery weight (5000.00 kg) exceeds total vehicle capacity (4000.00 kg)", res.Message)
}

func TestOptimizeRespectsCapacityAndPrecedence(t *testing.T) {
	vehicles := []model.Vehicle{
		van("V1", 28.60, 77.20, 100),
		van("V2", 28.63, 77.24, 100),
		van("V3", 28.61, 77.22, 100),
	}
	res, err := New(Params{}).Optimize(context.Background(), request(vehicles, cityDeliveries(8, 30)))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.Empty(t, res.UnassignedDeliveries)

	caps := map[string]float64{}
	for _, v := range vehicles {
		caps[v.ID] = v.Capacity.WeightKg
	}
	served := 0
	for _, r := range res.Routes {
		load := 0.0
		pickupSeq := map[string]int{}
		for i, s := range r.Stops {
			require.Equal(t, i+1, s.Sequence)
			if s.Type == model.StopPickup {
				load += 30
				pickupSeq[s.DeliveryID] = s.Sequence
				continue
			}
			ps, ok := pickupSeq[s.DeliveryID]
			require.True(t, ok, "drop of %s before its pickup", s.DeliveryID)
			require.Less(t, ps, s.Sequence)
			served++
		}
		require.LessOrEqual(t, load, caps[r.VehicleID])
		assert.Equal(t, model.RoutePlanned, r.Status)
		assert.Equal(t, 1, r.Version)
		assert.InDelta(t, r.TotalDistanceKm*0.1, r.FuelLitres, 1e-9)
	}
	assert.Equal(t, 8, served)
	assert.Greater(t, res.TotalDistanceKm, 0.0)
}

func TestOptimizeIsDeterministic(t *testing.T) {
	vehicles := []model.Vehicle{van("V1", 28.60, 77.20, 100), van("V2", 28.63, 77.24, 100)}
	req := request(vehicles, cityDeliveries(6, 20))
	s := New(Params{})

	first, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	second, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, first.TotalDistanceKm, second.TotalDistanceKm)
	assert.Equal(t, first.TotalDurationMin, second.TotalDurationMin)
	assert.Equal(t, first.AlgorithmUsed, second.AlgorithmUsed)
}

func TestTotalCostCombinesFuelAndDistance(t *testing.T) {
	ev := van("E1", 28.60, 77.20, 100)
	ev.FuelType = model.FuelElectric
	req := request([]model.Vehicle{ev}, cityDeliveries(2, 10))
	res, err := New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Routes, 1)
	assert.Zero(t, res.Routes[0].FuelLitres)
	assert.InDelta(t, res.TotalDistanceKm*0.5, res.TotalCost, 1e-9)
}

type failing struct{ err error }

func (failing) Name() string { return "always_fails" }
func (f failing) Solve(context.Context, *Problem) (Outcome, error) {
	return Outcome{}, f.err
}

func TestFallbackStrategyWins(t *testing.T) {
	s := New(Params{Strategies: []Strategy{failing{err: ErrTimeout}, NearestNeighbor{}}})
	req := request([]model.Vehicle{van("V1", 28.60, 77.20, 100)}, cityDeliveries(3, 10))

	res, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, AlgorithmNearestNeighbor, res.AlgorithmUsed)
	for _, r := range res.Routes {
		assert.True(t, r.Optimization.FallbackUsed)
	}
	assert.Contains(t, s.LastRuns(), AlgorithmNearestNeighbor)

	req.Options.DisableFallback = true
	res, err = s.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No feasible assignment found", res.Message)
}

func TestFallbackOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := request([]model.Vehicle{van("V1", 28.60, 77.20, 100)}, cityDeliveries(3, 10))
	res, err := New(Params{}).Optimize(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, AlgorithmNearestNeighbor, res.AlgorithmUsed)
}

func TestOversizedDeliveryLeftUnassigned(t *testing.T) {
	vehicles := []model.Vehicle{van("V1", 28.60, 77.20, 100), van("V2", 28.61, 77.21, 100)}
	deliveries := []model.Delivery{
		delivery("D-heavy", loc(28.60, 77.20), loc(28.62, 77.22), 150),
		delivery("D-light", loc(28.60, 77.21), loc(28.62, 77.23), 20),
	}
	res, err := New(Params{}).Optimize(context.Background(), request(vehicles, deliveries))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []string{"D-heavy"}, res.UnassignedDeliveries)
	assert.Equal(t, "1 deliveries could not be assigned", res.Message)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, []string{"D-light"}, res.Routes[0].DeliveryIDs())
}

func TestTruckRejectedInResidentialZoneAtNight(t *testing.T) {
	truck := van("T1", 28.60, 77.20, 1000)
	truck.Type = model.VehicleTruck
	home := model.Location{GeoPoint: model.GeoPoint{Lat: 28.61, Lng: 77.21}, ZoneID: "R7", ZoneType: "residential"}
	d := delivery("D1", loc(28.60, 77.20), home, 50)
	d.TimeWindow = model.TimeWindow{Earliest: at(2, 0), Latest: at(3, 0)}

	req := request([]model.Vehicle{truck}, []model.Delivery{d})
	req.TimeWindow = model.TimeWindow{Earliest: at(1, 30), Latest: at(6, 0)}
	req.Rules = []model.RuleSet{{
		ID: "city", Active: true,
		TimeRestrictions: []model.TimeRestrictionRule{{
			ID: "night-trucks", ZoneType: "residential", VehicleTypes: []model.VehicleType{model.VehicleTruck},
			AllowedHours: model.ClockRange{Start: "08:00", End: "20:00"}, SuggestedVehicleType: model.VehicleVan,
		}},
	}}

	res, err := New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	for _, r := range res.Routes {
		assert.False(t, r.Compliance.IsCompliant, "truck route must carry the violation")
	}
	assert.False(t, res.Success)
	assert.Equal(t, "No feasible assignment found", res.Message)
}

func TestEveningTruckCannotReachResidentialDropInHours(t *testing.T) {
	truck := van("T1", 28.60, 77.20, 1000)
	truck.Type = model.VehicleTruck
	// about 55 km north, so the drop is reached a little after 23:00
	suburb := model.Location{GeoPoint: model.GeoPoint{Lat: 29.095, Lng: 77.20}, ZoneID: "R9", ZoneType: "residential"}
	d := delivery("D1", loc(28.60, 77.20), suburb, 50)
	d.TimeWindow = model.TimeWindow{Earliest: at(21, 0), Latest: at(23, 59)}

	req := request([]model.Vehicle{truck}, []model.Delivery{d})
	req.TimeWindow = model.TimeWindow{Earliest: at(21, 0), Latest: at(26, 0)}
	req.Rules = []model.RuleSet{{
		ID: "city", Active: true,
		TimeRestrictions: []model.TimeRestrictionRule{{
			ID: "residential-trucks", ZoneType: "residential", VehicleTypes: []model.VehicleType{model.VehicleTruck},
			AllowedHours: model.ClockRange{Start: "06:00", End: "22:00"},
		}},
	}}

	res, err := New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Routes)
	assert.Equal(t, []string{"D1"}, res.UnassignedDeliveries)

	// a van is not covered by the rule and takes the same drop
	req.Vehicles = append(req.Vehicles, van("V1", 28.60, 77.20, 1000))
	res, err = New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Routes, 1)
	r := res.Routes[0]
	assert.Equal(t, "V1", r.VehicleID)
	assert.True(t, r.Compliance.IsCompliant)
	last := r.Stops[len(r.Stops)-1]
	assert.True(t, last.EstimatedArrival.After(at(23, 0)))
}

func TestOnBoardDeliveryGetsDropOnlyRoute(t *testing.T) {
	carrier := van("V1", 28.60, 77.20, 100)
	carrier.OnBoard = []string{"D00"}
	deliveries := cityDeliveries(2, 10)

	res, err := New(Params{}).Optimize(context.Background(), request([]model.Vehicle{carrier, van("V2", 28.60, 77.20, 100)}, deliveries))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.Empty(t, res.UnassignedDeliveries)

	var seen bool
	for _, r := range res.Routes {
		for _, st := range r.Stops {
			if st.DeliveryID != "D00" {
				continue
			}
			seen = true
			assert.Equal(t, "V1", r.VehicleID)
			assert.Equal(t, model.StopDelivery, st.Type, "no second pickup for a load already aboard")
		}
	}
	assert.True(t, seen)
}

func TestOddEvenExcludesEvenPlateOnOddDate(t *testing.T) {
	odd := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	diesel := van("V-even", 28.60, 77.20, 100)
	diesel.PlateNumber = "DL1C4568"
	electric := van("V-ev", 28.65, 77.30, 100)
	electric.PlateNumber = "DL1E2222"
	electric.FuelType = model.FuelElectric

	deliveries := cityDeliveries(3, 10)
	for i := range deliveries {
		deliveries[i].TimeWindow = model.TimeWindow{Earliest: odd.Add(8 * time.Hour), Latest: odd.Add(18 * time.Hour)}
	}
	req := request([]model.Vehicle{diesel, electric}, deliveries)
	req.TimeWindow = model.TimeWindow{Earliest: odd.Add(8 * time.Hour), Latest: odd.Add(20 * time.Hour)}
	req.Rules = []model.RuleSet{{ID: "oe", Active: true, OddEven: &model.OddEvenRule{ID: "oe-1", Enabled: true}}}

	res, err := New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NotEmpty(t, res.Routes)
	for _, r := range res.Routes {
		assert.Equal(t, "V-ev", r.VehicleID)
		assert.True(t, r.Compliance.IsCompliant)
	}
}

func TestHubSequencingOrdersByOpeningHours(t *testing.T) {
	north := model.Hub{ID: "H-north", Location: loc(28.70, 77.10), OperatingHours: model.ClockRange{Start: "12:00", End: "22:00"}}
	south := model.Hub{ID: "H-south", Location: loc(28.50, 77.30), OperatingHours: model.ClockRange{Start: "06:00", End: "22:00"}}
	deliveries := []model.Delivery{
		delivery("N1", loc(28.70, 77.11), loc(28.71, 77.12), 10),
		delivery("S1", loc(28.50, 77.31), loc(28.51, 77.32), 10),
	}
	for i := range deliveries {
		deliveries[i].TimeWindow = model.TimeWindow{Earliest: at(7, 0), Latest: at(22, 0)}
	}
	req := request([]model.Vehicle{van("V1", 28.55, 77.25, 100)}, deliveries)
	req.TimeWindow = model.TimeWindow{Earliest: at(7, 0), Latest: at(23, 0)}
	req.Hubs = []model.Hub{north, south}
	req.Constraints.HubSequencing = true

	res, err := New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Routes, 2)
	assert.Equal(t, "H-south", res.Routes[0].HubID)
	assert.Equal(t, "H-north", res.Routes[1].HubID)
	assert.False(t, res.Routes[1].Stops[0].EstimatedArrival.Before(at(12, 0)))

	req.Hubs = nil
	res, err = New(Params{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)
	for _, r := range res.Routes {
		assert.Empty(t, r.HubID)
	}
}

func TestMalformedRequestIsAFault(t *testing.T) {
	v := van("V1", 200, 77.2, 100)
	req := request([]model.Vehicle{v}, cityDeliveries(1, 10))
	_, err := New(Params{}).Optimize(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "lat")
}
