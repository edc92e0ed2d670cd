// Package compliance evaluates vehicles and routes against the city's access rules.
package compliance

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cityroute/internal/model"
)

const defaultPenalty = 100.0

// Default minimum emission class per zone sensitivity.
var defaultMinClass = map[model.Sensitivity]int{
	model.SensitivityLow:      3,
	model.SensitivityMedium:   4,
	model.SensitivityHigh:     5,
	model.SensitivityCritical: 6,
}

// StopCheck is one location a vehicle will visit, with the time it is there and
// the shipment it carries for that stop.
type StopCheck struct {
	Seq        int
	DeliveryID string
	Location   model.Location
	At         time.Time
	Shipment   model.Shipment
}

// Evaluator is stateless; every call is a pure function of its inputs.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator() *Evaluator { return &Evaluator{now: time.Now} }

// EvaluateAssignment checks a candidate vehicle for a single delivery, visiting
// pickup and drop at the given time.
func (e *Evaluator) EvaluateAssignment(v model.Vehicle, d model.Delivery, at time.Time, rules []model.RuleSet) model.ComplianceResult {
	stops := []StopCheck{
		{Seq: 1, DeliveryID: d.ID, Location: d.Pickup, At: at, Shipment: d.Shipment},
		{Seq: 2, DeliveryID: d.ID, Location: d.Drop, At: at, Shipment: d.Shipment},
	}
	return e.Evaluate(v, stops, rules)
}

// EvaluateRoute checks a materialised route using each stop's estimated arrival.
// Deliveries missing from the map are checked without shipment attributes.
func (e *Evaluator) EvaluateRoute(v model.Vehicle, r model.Route, deliveries map[string]model.Delivery, rules []model.RuleSet) model.ComplianceResult {
	stops := make([]StopCheck, 0, len(r.Stops))
	for _, s := range r.Stops {
		stops = append(stops, StopCheck{
			Seq:        s.Sequence,
			DeliveryID: s.DeliveryID,
			Location:   s.Location,
			At:         s.EstimatedArrival,
			Shipment:   deliveries[s.DeliveryID].Shipment,
		})
	}
	return e.Evaluate(v, stops, rules)
}

// Evaluate runs every active rule against the vehicle over stops.
func (e *Evaluator) Evaluate(v model.Vehicle, stops []StopCheck, rules []model.RuleSet) model.ComplianceResult {
	c := &collector{exempted: map[string]bool{}, seen: map[string]bool{}}

	if !v.Compliance.PermitValid {
		c.warn(model.ComplianceWarning{RuleType: model.RulePermit, Message: fmt.Sprintf("vehicle %s has no valid permit on record", v.ID)})
	}
	for _, s := range stops {
		checkVehicleRestrictions(c, v, s)
	}
	for _, rs := range rules {
		if !rs.Active {
			continue
		}
		for _, s := range stops {
			for _, tr := range rs.TimeRestrictions {
				checkTimeRestriction(c, v, s, tr)
			}
			if rs.OddEven != nil {
				checkOddEven(c, v, s, *rs.OddEven)
			}
			for _, wl := range rs.WeightLimits {
				checkWeightLimit(c, v, s, wl)
			}
			for _, pr := range rs.Pollution {
				checkPollution(c, v, s, pr)
			}
		}
	}

	res := c.res
	res.IsCompliant = len(res.Violations) == 0
	res.CheckedAt = e.now()
	return res
}

type collector struct {
	res      model.ComplianceResult
	exempted map[string]bool
	seen     map[string]bool
}

// once reports true the first time key is seen.
func (c *collector) once(key string) bool {
	if c.seen[key] {
		return false
	}
	c.seen[key] = true
	return true
}

func (c *collector) violate(v model.Violation, action string, alt *model.AlternativeOption) {
	c.res.Violations = append(c.res.Violations, v)
	c.suggest(action, alt)
}

func (c *collector) warn(w model.ComplianceWarning) {
	c.res.Warnings = append(c.res.Warnings, w)
	c.res.Penalty += w.Penalty
}

func (c *collector) suggest(action string, alt *model.AlternativeOption) {
	if action != "" && c.once("action:"+action) {
		c.res.SuggestedActions = append(c.res.SuggestedActions, action)
	}
	if alt != nil && c.once("alt:"+alt.RuleID+":"+string(alt.VehicleType)+":"+alt.Window.String()) {
		c.res.AlternativeOptions = append(c.res.AlternativeOptions, *alt)
	}
}

func (c *collector) exempt(ruleID string, t model.RuleType, reason string) {
	key := string(t) + ":" + ruleID
	if c.exempted[key] {
		return
	}
	c.exempted[key] = true
	c.res.Exemptions = append(c.res.Exemptions, model.Exemption{RuleID: ruleID, RuleType: t, Reason: reason})
}

func checkVehicleRestrictions(c *collector, v model.Vehicle, s StopCheck) {
	for _, z := range v.Compliance.ZoneRestrictions {
		if z != "" && z == s.Location.ZoneID && c.once(fmt.Sprintf("zr:%s:%d", z, s.Seq)) {
			c.violate(model.Violation{
				RuleType: model.RuleZoneRestriction, DeliveryID: s.DeliveryID, StopSeq: s.Seq, ZoneID: z,
				Message: fmt.Sprintf("vehicle %s is barred from zone %s", v.ID, z),
			}, "assign a vehicle cleared for zone "+z, nil)
		}
	}
	for _, w := range v.Compliance.TimeRestrictions {
		if s.At.IsZero() || !w.Contains(s.At) {
			continue
		}
		if c.once(fmt.Sprintf("vtr:%s:%d", w.String(), s.Seq)) {
			c.violate(model.Violation{
				RuleType: model.RuleTimeRestriction, DeliveryID: s.DeliveryID, StopSeq: s.Seq, ZoneID: s.Location.ZoneID,
				Message: fmt.Sprintf("vehicle %s may not operate during %s", v.ID, w.String()),
			}, "reschedule outside "+w.String(), nil)
		}
	}
}

func checkTimeRestriction(c *collector, v model.Vehicle, s StopCheck, r model.TimeRestrictionRule) {
	if r.ZoneType == "" || r.ZoneType != s.Location.ZoneType || !slices.Contains(r.VehicleTypes, v.Type) {
		return
	}
	if s.At.IsZero() || r.AllowedHours.Contains(s.At) {
		return
	}
	for _, tag := range r.ExceptionTags {
		if slices.Contains(s.Shipment.HandlingTags, tag) {
			c.exempt(r.ID, model.RuleTimeRestriction, fmt.Sprintf("handling tag %q exempts %s", tag, s.DeliveryID))
			return
		}
	}
	var alt *model.AlternativeOption
	if r.SuggestedVehicleType != "" {
		alt = &model.AlternativeOption{
			RuleID: r.ID, VehicleType: r.SuggestedVehicleType,
			Description: fmt.Sprintf("use a %s in %s zones outside %s", r.SuggestedVehicleType, r.ZoneType, r.AllowedHours.String()),
		}
	}
	action := fmt.Sprintf("schedule %s stops for %s vehicles within %s", r.ZoneType, v.Type, r.AllowedHours.String())
	msg := fmt.Sprintf("%s not allowed in %s zone at %s (allowed %s)", v.Type, r.ZoneType, s.At.Format("15:04"), r.AllowedHours.String())
	if r.SoftOnly {
		c.warn(model.ComplianceWarning{RuleID: r.ID, RuleType: model.RuleTimeRestriction, Message: msg, Penalty: penaltyOr(r.Penalty)})
		c.suggest(action, alt)
		return
	}
	c.violate(model.Violation{
		RuleID: r.ID, RuleType: model.RuleTimeRestriction, DeliveryID: s.DeliveryID, StopSeq: s.Seq,
		ZoneID: s.Location.ZoneID, Message: msg,
	}, action, alt)
}

func checkOddEven(c *collector, v model.Vehicle, s StopCheck, r model.OddEvenRule) {
	if !r.Enabled || s.At.IsZero() {
		return
	}
	date := s.At.Format("2006-01-02")
	if len(r.Dates) > 0 && !slices.Contains(r.Dates, date) {
		return
	}
	if len(r.Zones) > 0 && !slices.Contains(r.Zones, s.Location.ZoneID) {
		return
	}
	switch {
	case slices.Contains(r.ExemptVehicleTypes, v.Type):
		c.exempt(r.ID, model.RuleOddEven, fmt.Sprintf("vehicle type %s is exempt", v.Type))
		return
	case v.IsElectric() || slices.Contains(r.ExemptFuelTypes, v.FuelType):
		c.exempt(r.ID, model.RuleOddEven, fmt.Sprintf("fuel type %s is exempt", v.FuelType))
		return
	case v.Compliance.OddEvenCompliant:
		c.exempt(r.ID, model.RuleOddEven, "vehicle holds an odd-even pass")
		return
	}
	if !c.once("oe:" + r.ID + ":" + date) {
		return
	}
	digit, ok := PlateLastDigit(v.PlateNumber)
	if !ok {
		c.violate(model.Violation{
			RuleID: r.ID, RuleType: model.RuleOddEven, DeliveryID: s.DeliveryID, StopSeq: s.Seq,
			Message: fmt.Sprintf("plate %q of vehicle %s has no digit to evaluate", v.PlateNumber, v.ID),
		}, "", nil)
		return
	}
	if digit%2 == s.At.Day()%2 {
		return
	}
	want := "even"
	if s.At.Day()%2 == 1 {
		want = "odd"
	}
	c.violate(model.Violation{
		RuleID: r.ID, RuleType: model.RuleOddEven, DeliveryID: s.DeliveryID, StopSeq: s.Seq,
		Message: fmt.Sprintf("plate %s not permitted on %s (%s plates only)", v.PlateNumber, date, want),
	}, fmt.Sprintf("use a vehicle with an %s plate or an exempt fuel type on %s", want, date), nil)
}

func checkWeightLimit(c *collector, v model.Vehicle, s StopCheck, r model.WeightLimitRule) {
	if !r.Matches(s.Location) {
		return
	}
	var issues []string
	if r.MaxWeightKg > 0 && s.Shipment.WeightKg > r.MaxWeightKg {
		issues = append(issues, fmt.Sprintf("shipment weight %.1f kg exceeds %.1f kg", s.Shipment.WeightKg, r.MaxWeightKg))
	}
	if r.VehicleCheck && r.MaxWeightKg > 0 && v.Capacity.WeightKg > r.MaxWeightKg {
		issues = append(issues, fmt.Sprintf("vehicle rated %.1f kg exceeds %.1f kg", v.Capacity.WeightKg, r.MaxWeightKg))
	}
	if r.MaxLengthM > 0 && s.Shipment.LengthM > r.MaxLengthM {
		issues = append(issues, fmt.Sprintf("length %.2f m exceeds %.2f m", s.Shipment.LengthM, r.MaxLengthM))
	}
	if r.MaxWidthM > 0 && s.Shipment.WidthM > r.MaxWidthM {
		issues = append(issues, fmt.Sprintf("width %.2f m exceeds %.2f m", s.Shipment.WidthM, r.MaxWidthM))
	}
	if r.MaxHeightM > 0 && s.Shipment.HeightM > r.MaxHeightM {
		issues = append(issues, fmt.Sprintf("height %.2f m exceeds %.2f m", s.Shipment.HeightM, r.MaxHeightM))
	}
	if len(issues) == 0 || !c.once(fmt.Sprintf("wl:%s:%s:%d", r.ID, s.DeliveryID, s.Seq)) {
		return
	}
	msg := fmt.Sprintf("zone %s limit: %s", zoneLabel(s.Location), strings.Join(issues, "; "))
	action := "split the shipment or route it around zone " + zoneLabel(s.Location)
	if !r.HardReject {
		c.warn(model.ComplianceWarning{RuleID: r.ID, RuleType: model.RuleWeightLimit, Message: msg, Penalty: penaltyOr(r.Penalty)})
		c.suggest(action, nil)
		return
	}
	c.violate(model.Violation{
		RuleID: r.ID, RuleType: model.RuleWeightLimit, DeliveryID: s.DeliveryID, StopSeq: s.Seq,
		ZoneID: s.Location.ZoneID, Message: msg,
	}, action, nil)
}

func checkPollution(c *collector, v model.Vehicle, s StopCheck, r model.PollutionRule) {
	if !r.Matches(s.Location) {
		return
	}
	if v.IsElectric() {
		c.exempt(r.ID, model.RulePollution, "electric vehicles are exempt from emission limits")
		return
	}
	minClass := r.MinClass
	if minClass == 0 {
		minClass = defaultMinClass[r.Sensitivity]
	}
	if v.Compliance.PollutionClass >= minClass || !c.once("pol:"+r.ID+":"+zoneLabel(s.Location)) {
		return
	}
	msg := fmt.Sprintf("emission class %d below minimum %d for %s-sensitivity zone %s", v.Compliance.PollutionClass, minClass, r.Sensitivity, zoneLabel(s.Location))
	action := fmt.Sprintf("use a class %d+ or electric vehicle in zone %s", minClass, zoneLabel(s.Location))
	alt := &model.AlternativeOption{RuleID: r.ID, Description: fmt.Sprintf("electric or class %d+ vehicle", minClass)}
	if !r.HardReject {
		c.warn(model.ComplianceWarning{RuleID: r.ID, RuleType: model.RulePollution, Message: msg, Penalty: penaltyOr(r.Penalty)})
		c.suggest(action, alt)
		return
	}
	c.violate(model.Violation{
		RuleID: r.ID, RuleType: model.RulePollution, DeliveryID: s.DeliveryID, StopSeq: s.Seq,
		ZoneID: s.Location.ZoneID, Message: msg,
	}, action, alt)
}

// PlateLastDigit returns the last decimal digit appearing in a plate number.
func PlateLastDigit(plate string) (int, bool) {
	for i := len(plate) - 1; i >= 0; i-- {
		if ch := plate[i]; ch >= '0' && ch <= '9' {
			return int(ch - '0'), true
		}
	}
	return 0, false
}

func zoneLabel(loc model.Location) string {
	if loc.ZoneID != "" {
		return loc.ZoneID
	}
	return loc.ZoneType
}

func penaltyOr(p float64) float64 {
	if p > 0 {
		return p
	}
	return defaultPenalty
}
