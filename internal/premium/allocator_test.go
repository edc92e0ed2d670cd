package premium

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/model"
)

var start = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

func vehicle(id string, lat, lng float64, fuel model.FuelType) model.Vehicle {
	return model.Vehicle{
		ID: id, Type: model.VehicleVan, Status: model.StatusAvailable, FuelType: fuel, FuelRateLPerKm: 0.12,
		Capacity: model.Capacity{WeightKg: 500, VolumeM3: 4}, Location: model.GeoPoint{Lat: lat, Lng: lng},
		ManufactureYear: 2023, PlateNumber: "DL1C0002",
		Compliance: model.VehicleCompliance{PollutionClass: 6, PermitValid: true},
	}
}

func premiumDelivery(id string, p model.Priority) model.Delivery {
	return model.Delivery{
		ID: id, CustomerID: "C-" + id, ServiceType: model.ServiceDedicatedPremium, Priority: p,
		Pickup:     model.Location{GeoPoint: model.GeoPoint{Lat: 28.61, Lng: 77.21}, ZoneID: "Z1"},
		Drop:       model.Location{GeoPoint: model.GeoPoint{Lat: 28.65, Lng: 77.25}, ZoneID: "Z2"},
		TimeWindow: model.TimeWindow{Earliest: start, Latest: start.Add(2 * time.Hour)},
		Shipment:   model.Shipment{WeightKg: 40, VolumeM3: 0.5},
	}
}

func TestPartition(t *testing.T) {
	ds := []model.Delivery{
		{ID: "a", ServiceType: model.ServiceDedicatedPremium},
		{ID: "b", Priority: model.PriorityUrgent},
		{ID: "c", CustomerID: "vip"},
		{ID: "d", CustomerID: "regular", Priority: model.PriorityHigh},
	}
	prem, shared := Partition(ds, []string{"vip"})
	require.Len(t, prem, 3)
	require.Len(t, shared, 1)
	assert.Equal(t, "d", shared[0].ID)
}

func TestNearerCleanerVehicleWins(t *testing.T) {
	near := vehicle("V-near-ev", 28.611, 77.211, model.FuelElectric)
	far := vehicle("V-far-diesel", 28.70, 77.35, model.FuelDiesel)

	res, err := New(DefaultConfig(), nil, nil).Allocate(context.Background(),
		[]model.Delivery{premiumDelivery("P1", model.PriorityHigh)}, []model.Vehicle{far, near}, nil, start)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	alloc := res.Allocations[0]
	assert.Equal(t, "V-near-ev", alloc.VehicleID)
	assert.True(t, alloc.Dedicated)
	assert.True(t, alloc.Exclusive)
	assert.Equal(t, model.PriorityHigh, alloc.PriorityLevel)
	assert.Equal(t, "C-P1", alloc.PremiumCustomerID)
	assert.Equal(t, start.Add(2*time.Hour-15*time.Minute), alloc.GuaranteedWindow.Latest)

	require.Len(t, res.Routes, 1)
	r := res.Routes[0]
	assert.Equal(t, alloc.RouteID, r.ID)
	require.Len(t, r.Stops, 2)
	assert.Equal(t, []string{"P1"}, r.DeliveryIDs())
	assert.Equal(t, model.StopPickup, r.Stops[0].Type)
	assert.Zero(t, r.FuelLitres)

	require.Len(t, res.Remaining, 1)
	assert.Equal(t, "V-far-diesel", res.Remaining[0].ID)
}

func TestUrgentServedBeforeHigh(t *testing.T) {
	best := vehicle("V-best", 28.61, 77.21, model.FuelElectric)
	other := vehicle("V-other", 28.75, 77.40, model.FuelDiesel)
	high := premiumDelivery("H1", model.PriorityHigh)
	urgent := premiumDelivery("U1", model.PriorityUrgent)
	urgent.TimeWindow.Earliest = start.Add(time.Hour)

	res, err := New(DefaultConfig(), nil, nil).Allocate(context.Background(),
		[]model.Delivery{high, urgent}, []model.Vehicle{best, other}, nil, start)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, "U1", res.Allocations[0].DeliveryID)
	assert.Equal(t, "V-best", res.Allocations[0].VehicleID)
	assert.Equal(t, "V-other", res.Allocations[1].VehicleID)
	assert.Empty(t, res.Remaining)
}

func TestNoEligibleVehicles(t *testing.T) {
	old := vehicle("V-old", 28.61, 77.21, model.FuelDiesel)
	old.ManufactureYear = 2001
	small := vehicle("V-small", 28.61, 77.21, model.FuelDiesel)
	small.Capacity.WeightKg = 10
	busy := vehicle("V-busy", 28.61, 77.21, model.FuelDiesel)
	busy.Status = model.StatusInTransit

	_, err := New(DefaultConfig(), nil, nil).Allocate(context.Background(),
		[]model.Delivery{premiumDelivery("P1", model.PriorityUrgent)}, []model.Vehicle{old, small, busy}, nil, start)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEligibleVehicles))
}

func TestRestrictedZoneNeedsAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RestrictedZones = []string{"Z2"}
	plain := vehicle("V-plain", 28.61, 77.21, model.FuelElectric)
	granted := vehicle("V-granted", 28.80, 77.40, model.FuelDiesel)
	granted.ZoneAccess = []string{"Z2"}

	res, err := New(cfg, nil, nil).Allocate(context.Background(),
		[]model.Delivery{premiumDelivery("P1", model.PriorityHigh)}, []model.Vehicle{plain, granted}, nil, start)
	require.NoError(t, err)
	assert.Equal(t, "V-granted", res.Allocations[0].VehicleID)
}

func TestGuaranteedWindowNeverInverts(t *testing.T) {
	a := New(DefaultConfig(), nil, nil)
	w := a.guaranteedWindow(model.TimeWindow{Earliest: start, Latest: start.Add(5 * time.Minute)})
	assert.Equal(t, start, w.Latest)
}

func TestGuaranteeRulesOutDistantVehicle(t *testing.T) {
	// the far EV outscores the near diesel but would reach the drop after
	// the guaranteed window closes
	farEV := vehicle("V-far-ev", 28.95, 77.60, model.FuelElectric)
	nearDiesel := vehicle("V-near-diesel", 28.62, 77.22, model.FuelDiesel)
	a := New(DefaultConfig(), nil, nil)
	d := premiumDelivery("P1", model.PriorityHigh)
	require.Greater(t, a.Score(farEV, d), a.Score(nearDiesel, d))

	res, err := a.Allocate(context.Background(), []model.Delivery{d}, []model.Vehicle{farEV, nearDiesel}, nil, start)
	require.NoError(t, err)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, "V-near-diesel", res.Allocations[0].VehicleID)
	drop := res.Routes[0].Stops[1]
	assert.False(t, drop.EstimatedArrival.After(res.Allocations[0].GuaranteedWindow.Latest))

	_, err = a.Allocate(context.Background(), []model.Delivery{d}, []model.Vehicle{farEV}, nil, start)
	require.ErrorIs(t, err, ErrNoEligibleVehicles)
}

func TestDedicatedRouteMustComplyAtArrival(t *testing.T) {
	van := vehicle("V1", 28.61, 77.21, model.FuelDiesel)
	d := premiumDelivery("P1", model.PriorityHigh)
	d.Drop.ZoneType = "residential"
	// pickup at 09:00 is inside the hours, the drop about 20 minutes later is not
	rules := []model.RuleSet{{
		ID: "city", Active: true,
		TimeRestrictions: []model.TimeRestrictionRule{{
			ID: "morning-vans", ZoneType: "residential", VehicleTypes: []model.VehicleType{model.VehicleVan},
			AllowedHours: model.ClockRange{Start: "06:00", End: "09:10"},
		}},
	}}
	_, err := New(DefaultConfig(), nil, nil).Allocate(context.Background(), []model.Delivery{d}, []model.Vehicle{van}, rules, start)
	require.ErrorIs(t, err, ErrNoEligibleVehicles)

	rules[0].TimeRestrictions[0].AllowedHours = model.ClockRange{Start: "06:00", End: "12:00"}
	res, err := New(DefaultConfig(), nil, nil).Allocate(context.Background(), []model.Delivery{d}, []model.Vehicle{van}, rules, start)
	require.NoError(t, err)
	assert.True(t, res.Routes[0].Compliance.IsCompliant)
}
