package model

import "time"

type RouteStatus string

const (
	RoutePlanned   RouteStatus = "planned"
	RouteActive    RouteStatus = "active"
	RouteCompleted RouteStatus = "completed"
	RouteCancelled RouteStatus = "cancelled"
)

type StopType string

const (
	StopPickup   StopType = "pickup"
	StopDelivery StopType = "delivery"
)

type StopStatus string

const (
	StopPending   StopStatus = "pending"
	StopArrived   StopStatus = "arrived"
	StopCompleted StopStatus = "completed"
	StopSkipped   StopStatus = "skipped"
)

type Stop struct {
	Sequence         int        `json:"sequence"`
	Location         Location   `json:"location"`
	Type             StopType   `json:"type"`
	DeliveryID       string     `json:"deliveryId"`
	EstimatedArrival time.Time  `json:"estimatedArrival"`
	EstimatedDepart  time.Time  `json:"estimatedDeparture"`
	Status           StopStatus `json:"status"`
}

// OptimizationMeta records how a route was produced.
type OptimizationMeta struct {
	Algorithm      string    `json:"algorithm"`
	Iterations     int       `json:"iterations"`
	ObjectiveValue float64   `json:"objectiveValue"`
	FallbackUsed   bool      `json:"fallbackUsed"`
	OptimizedAt    time.Time `json:"optimizedAt"`
}

// Route is produced by a solve. Re-optimization replaces the held value, it never
// mutates it in place.
type Route struct {
	ID               string           `json:"id"`
	Version          int              `json:"version"`
	VehicleID        string           `json:"vehicleId"`
	DriverID         string           `json:"driverId,omitempty"`
	HubID            string           `json:"hubId,omitempty"`
	Stops            []Stop           `json:"stops"`
	TotalDistanceKm  float64          `json:"totalDistanceKm"`
	TotalDurationMin float64          `json:"totalDurationMin"`
	FuelLitres       float64          `json:"fuelLitres"`
	Status           RouteStatus      `json:"status"`
	Optimization     OptimizationMeta `json:"optimization"`
	Compliance       ComplianceResult `json:"compliance"`
}

// Clone returns a deep copy so holders can hand routes out without sharing stops.
func (r Route) Clone() Route {
	out := r
	out.Stops = append([]Stop(nil), r.Stops...)
	out.Compliance = r.Compliance.Clone()
	return out
}

// DeliveryIDs returns the distinct delivery ids in stop order.
func (r Route) DeliveryIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, s := range r.Stops {
		if !seen[s.DeliveryID] {
			seen[s.DeliveryID] = true
			ids = append(ids, s.DeliveryID)
		}
	}
	return ids
}

// NextPendingStop returns the first stop not yet completed or skipped.
func (r Route) NextPendingStop() (Stop, bool) {
	for _, s := range r.Stops {
		if s.Status == "" || s.Status == StopPending || s.Status == StopArrived {
			return s, true
		}
	}
	return Stop{}, false
}

// PremiumRouteAllocation accompanies a route that serves a dedicated premium delivery.
type PremiumRouteAllocation struct {
	RouteID           string     `json:"routeId"`
	DeliveryID        string     `json:"deliveryId"`
	PremiumCustomerID string     `json:"premiumCustomerId"`
	VehicleID         string     `json:"vehicleId"`
	Dedicated         bool       `json:"dedicated"`
	Exclusive         bool       `json:"exclusive"`
	PriorityLevel     Priority   `json:"priorityLevel"`
	GuaranteedWindow  TimeWindow `json:"guaranteedWindow"`
	Score             float64    `json:"score"`
}
