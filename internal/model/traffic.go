package model

import "time"

// TrafficConditions is the traffic service's reading for an area.
type TrafficConditions struct {
	CongestionLevel      string    `json:"congestionLevel"` // low, moderate, heavy, severe
	AverageSpeedKph      float64   `json:"averageSpeed"`
	TravelTimeMultiplier float64   `json:"travelTimeMultiplier"`
	Timestamp            time.Time `json:"timestamp"`
	Source               string    `json:"source,omitempty"`
}

type TrafficAlert struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"` // accident, closure, construction, event
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Location    GeoPoint  `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
}
