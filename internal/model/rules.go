package model

// Rule sets describe the city's access regulations. They are supplied by an
// external rule source and refreshed on every detection cycle.

type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

type RuleSet struct {
	ID               string                `json:"id" yaml:"id"`
	Name             string                `json:"name,omitempty" yaml:"name,omitempty"`
	Active           bool                  `json:"active" yaml:"active"`
	TimeRestrictions []TimeRestrictionRule `json:"timeRestrictions,omitempty" yaml:"timeRestrictions,omitempty"`
	OddEven          *OddEvenRule          `json:"oddEven,omitempty" yaml:"oddEven,omitempty"`
	WeightLimits     []WeightLimitRule     `json:"weightLimits,omitempty" yaml:"weightLimits,omitempty"`
	Pollution        []PollutionRule       `json:"pollution,omitempty" yaml:"pollution,omitempty"`
}

// TimeRestrictionRule limits the listed vehicle types in zones of ZoneType to AllowedHours.
type TimeRestrictionRule struct {
	ID                   string        `json:"id" yaml:"id"`
	ZoneType             string        `json:"zoneType" yaml:"zoneType"`
	VehicleTypes         []VehicleType `json:"vehicleTypes" yaml:"vehicleTypes"`
	AllowedHours         ClockRange    `json:"allowedHours" yaml:"allowedHours"`
	ExceptionTags        []string      `json:"exceptionTags,omitempty" yaml:"exceptionTags,omitempty"`
	SuggestedVehicleType VehicleType   `json:"suggestedVehicleType,omitempty" yaml:"suggestedVehicleType,omitempty"`
	SoftOnly             bool          `json:"softOnly,omitempty" yaml:"softOnly,omitempty"`
	Penalty              float64       `json:"penalty,omitempty" yaml:"penalty,omitempty"`
}

// OddEvenRule admits plates whose last digit has the parity of the day of month.
// Dates, when set, lists the operative dates ("2006-01-02") the rule applies on.
type OddEvenRule struct {
	ID                 string        `json:"id" yaml:"id"`
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	Dates              []string      `json:"dates,omitempty" yaml:"dates,omitempty"`
	Zones              []string      `json:"zones,omitempty" yaml:"zones,omitempty"`
	ExemptVehicleTypes []VehicleType `json:"exemptVehicleTypes,omitempty" yaml:"exemptVehicleTypes,omitempty"`
	ExemptFuelTypes    []FuelType    `json:"exemptFuelTypes,omitempty" yaml:"exemptFuelTypes,omitempty"`
}

// WeightLimitRule caps shipment and vehicle size inside a zone. A rule matches a
// stop by ZoneID, or by ZoneType when ZoneID is empty.
type WeightLimitRule struct {
	ID           string  `json:"id" yaml:"id"`
	ZoneID       string  `json:"zoneId,omitempty" yaml:"zoneId,omitempty"`
	ZoneType     string  `json:"zoneType,omitempty" yaml:"zoneType,omitempty"`
	MaxWeightKg  float64 `json:"maxWeightKg,omitempty" yaml:"maxWeightKg,omitempty"`
	MaxLengthM   float64 `json:"maxLengthM,omitempty" yaml:"maxLengthM,omitempty"`
	MaxWidthM    float64 `json:"maxWidthM,omitempty" yaml:"maxWidthM,omitempty"`
	MaxHeightM   float64 `json:"maxHeightM,omitempty" yaml:"maxHeightM,omitempty"`
	HardReject   bool    `json:"hardReject" yaml:"hardReject"`
	Penalty      float64 `json:"penalty,omitempty" yaml:"penalty,omitempty"`
	VehicleCheck bool    `json:"vehicleCheck,omitempty" yaml:"vehicleCheck,omitempty"` // also compare vehicle gross capacity
}

// PollutionRule requires a minimum emission class in sensitive zones. MinClass
// overrides the default derived from Sensitivity.
type PollutionRule struct {
	ID          string      `json:"id" yaml:"id"`
	ZoneID      string      `json:"zoneId,omitempty" yaml:"zoneId,omitempty"`
	ZoneType    string      `json:"zoneType,omitempty" yaml:"zoneType,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity" yaml:"sensitivity"`
	MinClass    int         `json:"minClass,omitempty" yaml:"minClass,omitempty"`
	HardReject  bool        `json:"hardReject" yaml:"hardReject"`
	Penalty     float64     `json:"penalty,omitempty" yaml:"penalty,omitempty"`
}

// zoneMatches reports whether a rule scoped by zone id or zone type applies to loc.
// A rule with neither scope applies everywhere.
func zoneMatches(zoneID, zoneType string, loc Location) bool {
	if zoneID != "" {
		return zoneID == loc.ZoneID
	}
	if zoneType != "" {
		return zoneType == loc.ZoneType
	}
	return true
}

func (r WeightLimitRule) Matches(loc Location) bool { return zoneMatches(r.ZoneID, r.ZoneType, loc) }

func (r PollutionRule) Matches(loc Location) bool { return zoneMatches(r.ZoneID, r.ZoneType, loc) }
