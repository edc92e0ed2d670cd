package model

import "time"

// Core fleet and delivery types. Vehicles, deliveries and hubs are owned by
// external services and treated as read-only solve input.

type VehicleType string

const (
	VehicleTruck      VehicleType = "truck"
	VehicleVan        VehicleType = "van"
	VehicleMiniTruck  VehicleType = "mini_truck"
	VehicleThreeWheel VehicleType = "three_wheeler"
	VehicleBike       VehicleType = "bike"
)

type VehicleStatus string

const (
	StatusAvailable   VehicleStatus = "available"
	StatusInTransit   VehicleStatus = "in_transit"
	StatusLoading     VehicleStatus = "loading"
	StatusMaintenance VehicleStatus = "maintenance"
	StatusBreakdown   VehicleStatus = "breakdown"
)

type FuelType string

const (
	FuelElectric FuelType = "electric"
	FuelCNG      FuelType = "cng"
	FuelHybrid   FuelType = "hybrid"
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities so that urgent sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

type ServiceType string

const (
	ServiceShared           ServiceType = "shared"
	ServiceDedicatedPremium ServiceType = "dedicated_premium"
)

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// Location is a point tagged with the regulatory zone it falls in.
type Location struct {
	GeoPoint `yaml:",inline"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
	ZoneID   string `json:"zoneId,omitempty" yaml:"zoneId,omitempty"`
	ZoneType string `json:"zoneType,omitempty" yaml:"zoneType,omitempty"` // residential, commercial, industrial, city_center
}

type Capacity struct {
	WeightKg   float64 `json:"weightKg" validate:"gte=0"`
	VolumeM3   float64 `json:"volumeM3" validate:"gte=0"`
	MaxLengthM float64 `json:"maxLengthM,omitempty" validate:"gte=0"`
	MaxWidthM  float64 `json:"maxWidthM,omitempty" validate:"gte=0"`
	MaxHeightM float64 `json:"maxHeightM,omitempty" validate:"gte=0"`
}

type VehicleCompliance struct {
	// PollutionClass is the emission standard stage, higher is cleaner (BS-IV = 4, BS-VI = 6).
	PollutionClass   int          `json:"pollutionClass"`
	PermitValid      bool         `json:"permitValid"`
	OddEvenCompliant bool         `json:"oddEvenCompliant"` // holds an odd-even exemption pass
	ZoneRestrictions []string     `json:"zoneRestrictions,omitempty"`
	TimeRestrictions []ClockRange `json:"timeRestrictions,omitempty"` // windows the vehicle may not operate in
}

type Driver struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	LicenseType string `json:"licenseType,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type Vehicle struct {
	ID              string            `json:"id" validate:"required"`
	Type            VehicleType       `json:"type" validate:"required"`
	SubType         string            `json:"subType,omitempty"`
	PlateNumber     string            `json:"plateNumber,omitempty"`
	Capacity        Capacity          `json:"capacity"`
	Location        GeoPoint          `json:"location"`
	LocationAt      time.Time         `json:"locationAt,omitempty"`
	Status          VehicleStatus     `json:"status"`
	Compliance      VehicleCompliance `json:"compliance"`
	ZoneAccess      []string          `json:"zoneAccess,omitempty"`
	Driver          Driver            `json:"driver"`
	FuelType        FuelType          `json:"fuelType"`
	FuelRateLPerKm  float64           `json:"fuelRateLPerKm,omitempty" validate:"gte=0"`
	ManufactureYear int               `json:"manufactureYear,omitempty"`
	SpeedKph        float64           `json:"speedKph,omitempty" validate:"gte=0"`

	// OnBoard lists deliveries already picked up and still to be dropped.
	OnBoard []string `json:"onBoard,omitempty"`
}

func (v Vehicle) IsElectric() bool { return v.FuelType == FuelElectric }

// HasZoneAccess reports whether the vehicle holds an access privilege for zoneID.
func (v Vehicle) HasZoneAccess(zoneID string) bool {
	for _, z := range v.ZoneAccess {
		if z == zoneID {
			return true
		}
	}
	return false
}

type TimeWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

func (w TimeWindow) IsZero() bool { return w.Earliest.IsZero() && w.Latest.IsZero() }

type Shipment struct {
	WeightKg              float64  `json:"weightKg" validate:"gte=0"`
	VolumeM3              float64  `json:"volumeM3" validate:"gte=0"`
	LengthM               float64  `json:"lengthM,omitempty" validate:"gte=0"`
	WidthM                float64  `json:"widthM,omitempty" validate:"gte=0"`
	HeightM               float64  `json:"heightM,omitempty" validate:"gte=0"`
	Fragile               bool     `json:"fragile,omitempty"`
	Hazardous             bool     `json:"hazardous,omitempty"`
	TemperatureControlled bool     `json:"temperatureControlled,omitempty"`
	HandlingTags          []string `json:"handlingTags,omitempty"`
}

type Delivery struct {
	ID             string      `json:"id" validate:"required"`
	CustomerID     string      `json:"customerId,omitempty"`
	Pickup         Location    `json:"pickup"`
	Drop           Location    `json:"drop"`
	TimeWindow     TimeWindow  `json:"timeWindow"`
	Shipment       Shipment    `json:"shipment"`
	Priority       Priority    `json:"priority,omitempty"`
	ServiceType    ServiceType `json:"serviceType,omitempty"`
	ServiceMinutes int         `json:"serviceMinutes,omitempty" validate:"gte=0"`
}

type Hub struct {
	ID              string     `json:"id" validate:"required"`
	Location        Location   `json:"location"`
	VehicleCapacity int        `json:"vehicleCapacity,omitempty"`
	StorageM3       float64    `json:"storageM3,omitempty"`
	OperatingHours  ClockRange `json:"operatingHours"`
}
