package model

import "time"

// Constraints selects which constraint classes the solver enforces.
type Constraints struct {
	Capacity      bool `json:"capacity"`
	TimeWindows   bool `json:"timeWindows"`
	HubSequencing bool `json:"hubSequencing"`
	Compliance    bool `json:"compliance"`
}

// DefaultConstraints enables everything except hub sequencing.
func DefaultConstraints() Constraints {
	return Constraints{Capacity: true, TimeWindows: true, Compliance: true}
}

// Options tunes a single solve. Zero values fall back to solver defaults.
type Options struct {
	MaxSeconds      float64 `json:"maxSeconds,omitempty" validate:"gte=0"`
	MaxIterations   int     `json:"maxIterations,omitempty" validate:"gte=0"`
	Seed            int64   `json:"seed,omitempty"`
	FirstSolution   string  `json:"firstSolution,omitempty" validate:"omitempty,oneof=cheapest_insertion nearest_neighbor"`
	Metaheuristic   string  `json:"metaheuristic,omitempty" validate:"omitempty,oneof=alns none"`
	AverageSpeedKph float64 `json:"averageSpeedKph,omitempty" validate:"gte=0"`
	ServiceMinutes  int     `json:"serviceMinutes,omitempty" validate:"gte=0"`
	DisableFallback bool    `json:"disableFallback,omitempty"`
	// PremiumCustomerIDs marks customers whose deliveries always get a dedicated vehicle.
	PremiumCustomerIDs []string `json:"premiumCustomerIds,omitempty"`
}

type RoutingRequest struct {
	Vehicles    []Vehicle   `json:"vehicles" validate:"dive"`
	Deliveries  []Delivery  `json:"deliveries" validate:"dive"`
	Hubs        []Hub       `json:"hubs,omitempty" validate:"dive"`
	Constraints Constraints `json:"constraints"`
	Rules       []RuleSet   `json:"rules,omitempty"`
	TimeWindow  TimeWindow  `json:"timeWindow"`
	Options     Options     `json:"options"`
}

type RoutingResult struct {
	Success              bool                     `json:"success"`
	Routes               []Route                  `json:"routes"`
	PremiumRoutes        []PremiumRouteAllocation `json:"premiumRoutes,omitempty"`
	UnassignedDeliveries []string                 `json:"unassignedDeliveries,omitempty"`
	TotalDistanceKm      float64                  `json:"totalDistance"`
	TotalDurationMin     float64                  `json:"totalDuration"`
	TotalCost            float64                  `json:"totalCost"`
	OptimizationTime     time.Duration            `json:"optimizationTime"`
	AlgorithmUsed        string                   `json:"algorithmUsed"`
	FallbackUsed         bool                     `json:"fallbackUsed"`
	ObjectiveValue       float64                  `json:"objectiveValue"`
	Message              string                   `json:"message,omitempty"`
}

// Failed builds an unsuccessful result carrying a stable message.
func Failed(msg string) RoutingResult {
	return RoutingResult{Success: false, Routes: []Route{}, Message: msg}
}
