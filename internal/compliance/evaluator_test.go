package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/model"
)

func residential() model.Location {
	return model.Location{GeoPoint: model.GeoPoint{Lat: 28.61, Lng: 77.21}, ZoneID: "R1", ZoneType: "residential"}
}

func truck(id, plate string) model.Vehicle {
	return model.Vehicle{
		ID: id, Type: model.VehicleTruck, PlateNumber: plate, FuelType: model.FuelDiesel,
		Compliance: model.VehicleCompliance{PollutionClass: 4, PermitValid: true},
	}
}

func TestTimeRestrictionRejectsTruckAtNight(t *testing.T) {
	rules := []model.RuleSet{{
		ID: "city", Active: true,
		TimeRestrictions: []model.TimeRestrictionRule{{
			ID: "no-night-trucks", ZoneType: "residential", VehicleTypes: []model.VehicleType{model.VehicleTruck},
			AllowedHours: model.ClockRange{Start: "08:00", End: "20:00"}, SuggestedVehicleType: model.VehicleVan,
		}},
	}}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential()}
	at := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)

	res := NewEvaluator().EvaluateAssignment(truck("T1", "DL1C1234"), d, at, rules)
	require.False(t, res.IsCompliant)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, model.RuleTimeRestriction, res.Violations[0].RuleType)
	require.Len(t, res.AlternativeOptions, 1)
	assert.Equal(t, model.VehicleVan, res.AlternativeOptions[0].VehicleType)

	day := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	res = NewEvaluator().EvaluateAssignment(truck("T1", "DL1C1234"), d, day, rules)
	assert.True(t, res.IsCompliant)
}

func TestTimeRestrictionExceptionTag(t *testing.T) {
	rules := []model.RuleSet{{
		ID: "city", Active: true,
		TimeRestrictions: []model.TimeRestrictionRule{{
			ID: "tr", ZoneType: "residential", VehicleTypes: []model.VehicleType{model.VehicleTruck},
			AllowedHours: model.ClockRange{Start: "08:00", End: "20:00"}, ExceptionTags: []string{"medical"},
		}},
	}}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential(), Shipment: model.Shipment{HandlingTags: []string{"medical"}}}
	res := NewEvaluator().EvaluateAssignment(truck("T1", "X1"), d, time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), rules)
	assert.True(t, res.IsCompliant)
	require.Len(t, res.Exemptions, 1)
}

func TestOddEvenParity(t *testing.T) {
	rules := []model.RuleSet{{ID: "oe", Active: true, OddEven: &model.OddEvenRule{ID: "oe-1", Enabled: true}}}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential()}
	oddDay := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	ev := NewEvaluator()

	even := ev.EvaluateAssignment(truck("T2", "DL1C4568"), d, oddDay, rules)
	assert.False(t, even.IsCompliant)
	assert.Equal(t, model.RuleOddEven, even.Violations[0].RuleType)
	assert.Len(t, even.Violations, 1, "one violation per rule and date")

	odd := ev.EvaluateAssignment(truck("T3", "DL1C4567"), d, oddDay, rules)
	assert.True(t, odd.IsCompliant)

	ev2 := truck("E1", "DL1C4568")
	ev2.FuelType = model.FuelElectric
	electric := ev.EvaluateAssignment(ev2, d, oddDay, rules)
	assert.True(t, electric.IsCompliant)
	require.Len(t, electric.Exemptions, 1)
	assert.Equal(t, model.RuleOddEven, electric.Exemptions[0].RuleType)
}

func TestOddEvenOnlyOnListedDates(t *testing.T) {
	rules := []model.RuleSet{{ID: "oe", Active: true, OddEven: &model.OddEvenRule{ID: "oe-1", Enabled: true, Dates: []string{"2026-03-07"}}}}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential()}
	res := NewEvaluator().EvaluateAssignment(truck("T2", "DL1C4568"), d, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), rules)
	assert.True(t, res.IsCompliant)
	res = NewEvaluator().EvaluateAssignment(truck("T2", "DL1C4568"), d, time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), rules)
	assert.False(t, res.IsCompliant)
}

func TestWeightLimitHardAndSoft(t *testing.T) {
	limit := model.WeightLimitRule{ID: "wl", ZoneID: "R1", MaxWeightKg: 500, HardReject: true}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential(), Shipment: model.Shipment{WeightKg: 800}}
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	hard := NewEvaluator().EvaluateAssignment(truck("T1", "1"), d, at, []model.RuleSet{{ID: "w", Active: true, WeightLimits: []model.WeightLimitRule{limit}}})
	assert.False(t, hard.IsCompliant)

	limit.HardReject = false
	limit.Penalty = 40
	soft := NewEvaluator().EvaluateAssignment(truck("T1", "1"), d, at, []model.RuleSet{{ID: "w", Active: true, WeightLimits: []model.WeightLimitRule{limit}}})
	assert.True(t, soft.IsCompliant)
	assert.Equal(t, 80.0, soft.Penalty, "pickup and drop both sit in the zone")
}

func TestPollutionExemptsElectric(t *testing.T) {
	rules := []model.RuleSet{{ID: "p", Active: true, Pollution: []model.PollutionRule{{ID: "lez", ZoneType: "residential", Sensitivity: model.SensitivityHigh, HardReject: true}}}}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential()}
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	ev := NewEvaluator()

	res := ev.EvaluateAssignment(truck("T1", "1"), d, at, rules)
	assert.False(t, res.IsCompliant)
	assert.NotEmpty(t, res.SuggestedActions)

	e := truck("E1", "1")
	e.FuelType = model.FuelElectric
	res = ev.EvaluateAssignment(e, d, at, rules)
	assert.True(t, res.IsCompliant)
	require.Len(t, res.Exemptions, 1)
	assert.Equal(t, model.RulePollution, res.Exemptions[0].RuleType)
}

func TestInactiveRuleSetIgnored(t *testing.T) {
	rules := []model.RuleSet{{ID: "oe", Active: false, OddEven: &model.OddEvenRule{ID: "oe-1", Enabled: true}}}
	d := model.Delivery{ID: "D1", Pickup: residential(), Drop: residential()}
	res := NewEvaluator().EvaluateAssignment(truck("T2", "8"), d, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), rules)
	assert.True(t, res.IsCompliant)
}

func TestPlateLastDigit(t *testing.T) {
	d, ok := PlateLastDigit("MH12AB3456X")
	require.True(t, ok)
	assert.Equal(t, 6, d)
	_, ok = PlateLastDigit("NOPLATE")
	assert.False(t, ok)
}

func TestFileSourceReadsActiveRules(t *testing.T) {
	doc := `
ruleSets:
  - id: delhi
    active: true
    timeRestrictions:
      - id: tr1
        zoneType: residential
        vehicleTypes: [truck]
        allowedHours: {start: "22:00", end: "06:00"}
    oddEven:
      id: oe
      enabled: true
      exemptFuelTypes: [cng]
  - id: old
    active: false
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := FileSource{Path: path}.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "delhi", rules[0].ID)
	assert.Equal(t, []model.FuelType{model.FuelCNG}, rules[0].OddEven.ExemptFuelTypes)
	assert.True(t, rules[0].TimeRestrictions[0].AllowedHours.Contains(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)))
}

func TestParseRulesRejectsBadClock(t *testing.T) {
	_, err := ParseRules([]byte("ruleSets:\n  - id: x\n    active: true\n    timeRestrictions:\n      - id: t\n        allowedHours: {start: \"late\", end: \"06:00\"}\n"))
	require.Error(t, err)
}
