package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/model"
)

func testProblem(vehicles []model.Vehicle, deliveries []model.Delivery) *Problem {
	s := New(Params{})
	req := s.normalize(request(vehicles, deliveries))
	return s.buildProblem(req, req.Vehicles, req.Deliveries, nil)
}

func TestInsertPairKeepsOrder(t *testing.T) {
	got := insertPair([]int{4, 5}, 0, 1, 3)
	assert.Equal(t, []int{4, 0, 5, 1}, got)
	got = insertPair(nil, 3, 0, 1)
	assert.Equal(t, []int{6, 7}, got)
}

func TestScheduleRejectsDropBeforePickup(t *testing.T) {
	p := testProblem([]model.Vehicle{van("V1", 28.6, 77.2, 100)}, cityDeliveries(1, 10))
	_, ok := p.schedule(RoutePlan{Vehicle: 0, Stops: []int{1, 0}})
	assert.False(t, ok)
	_, ok = p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0}})
	assert.False(t, ok, "pickup without drop")
	sched, ok := p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0, 1}})
	require.True(t, ok)
	require.Len(t, sched.Visits, 2)
	assert.True(t, sched.Visits[1].Arrival.After(sched.Visits[0].Depart) || sched.Visits[1].Arrival.Equal(sched.Visits[0].Depart))
}

func TestScheduleRejectsLateDrop(t *testing.T) {
	d := delivery("D1", loc(28.60, 77.20), loc(28.90, 77.50), 10)
	d.TimeWindow = model.TimeWindow{Earliest: at(8, 0), Latest: at(8, 10)}
	p := testProblem([]model.Vehicle{van("V1", 28.6, 77.2, 100)}, []model.Delivery{d})
	_, ok := p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0, 1}})
	assert.False(t, ok)
}

func TestNearestNeighborPrefersClosestPickup(t *testing.T) {
	vehicles := []model.Vehicle{van("V1", 28.60, 77.20, 100)}
	deliveries := []model.Delivery{
		delivery("far", loc(28.70, 77.30), loc(28.71, 77.31), 10),
		delivery("near", loc(28.601, 77.201), loc(28.602, 77.202), 10),
	}
	p := testProblem(vehicles, deliveries)
	sol, err := nearestNeighborSeed(p, func() bool { return false })
	require.NoError(t, err)
	require.Len(t, sol.Plans[0].Stops, 4)
	first := p.Tasks[taskOf(sol.Plans[0].Stops[0])].Delivery.ID
	assert.Equal(t, "near", first)
	assert.Empty(t, sol.Unassigned(p))
}

func TestNearestNeighborTieBreaksOnDeliveryID(t *testing.T) {
	same := loc(28.61, 77.21)
	deliveries := []model.Delivery{
		delivery("B", same, loc(28.62, 77.22), 10),
		delivery("A", same, loc(28.62, 77.22), 10),
	}
	p := testProblem([]model.Vehicle{van("V1", 28.60, 77.20, 100)}, deliveries)
	sol, err := nearestNeighborSeed(p, func() bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "A", p.Tasks[taskOf(sol.Plans[0].Stops[0])].Delivery.ID)
}

func TestScheduleCarriesOnBoardLoad(t *testing.T) {
	carrier := van("V1", 28.6, 77.2, 15)
	carrier.OnBoard = []string{"D00"}
	p := testProblem([]model.Vehicle{carrier, van("V2", 28.6, 77.2, 100)}, cityDeliveries(2, 10))
	require.True(t, p.Tasks[0].OnBoard)
	assert.Equal(t, 0, p.Tasks[0].Carrier)
	assert.False(t, p.Tasks[1].OnBoard)

	assert.True(t, p.canServe(0, 0))
	assert.False(t, p.canServe(1, 0), "load on V1 cannot move to V2")

	sched, ok := p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0, 1}})
	require.True(t, ok)
	require.Len(t, sched.Visits, 1, "no pickup visit for a load already aboard")
	assert.Equal(t, 1, sched.Visits[0].Stop)

	_, ok = p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0, 1, 2, 3}})
	assert.False(t, ok, "on-board weight counts against capacity")
	_, ok = p.schedule(RoutePlan{Vehicle: 1, Stops: []int{0, 1}})
	assert.False(t, ok)
}

func TestScheduleChecksTimeRulesAtArrival(t *testing.T) {
	truck := van("T1", 28.60, 77.20, 1000)
	truck.Type = model.VehicleTruck
	home := model.Location{GeoPoint: model.GeoPoint{Lat: 28.70, Lng: 77.20}, ZoneID: "R1", ZoneType: "residential"}
	d := delivery("D1", loc(28.60, 77.20), home, 50)

	s := New(Params{})
	req := s.normalize(request([]model.Vehicle{truck}, []model.Delivery{d}))
	req.Rules = []model.RuleSet{{
		ID: "city", Active: true,
		TimeRestrictions: []model.TimeRestrictionRule{{
			ID: "truck-hours", ZoneType: "residential", VehicleTypes: []model.VehicleType{model.VehicleTruck},
			AllowedHours: model.ClockRange{Start: "06:00", End: "08:30"},
		}},
	}}
	// the pickup at 08:00 is allowed on its own; the drop lands after 08:30
	p := s.buildProblem(req, req.Vehicles, req.Deliveries, nil)
	require.True(t, p.Allowed[0][0])
	_, ok := p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0, 1}})
	assert.False(t, ok)

	req.Rules[0].TimeRestrictions[0].AllowedHours = model.ClockRange{Start: "06:00", End: "12:00"}
	p = s.buildProblem(req, req.Vehicles, req.Deliveries, nil)
	_, ok = p.schedule(RoutePlan{Vehicle: 0, Stops: []int{0, 1}})
	assert.True(t, ok)
}
