package model

import "time"

type TriggerType string

const (
	TriggerTrafficChange    TriggerType = "traffic_change"
	TriggerVehicleBreakdown TriggerType = "vehicle_breakdown"
	TriggerDeliveryUpdate   TriggerType = "delivery_update"
	TriggerComplianceChange TriggerType = "compliance_change"
	TriggerManual           TriggerType = "manual"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level orders severities, critical highest.
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// Immediate reports whether a trigger of this severity is re-optimized within the cycle.
func (s Severity) Immediate() bool { return s.Level() >= SeverityHigh.Level() }

// ReOptimizationTrigger is a detected change that may invalidate active routes.
type ReOptimizationTrigger struct {
	ID               string         `json:"id"`
	Type             TriggerType    `json:"type"`
	Severity         Severity       `json:"severity"`
	Description      string         `json:"description"`
	AffectedRouteIDs []string       `json:"affectedRouteIds"`
	Timestamp        time.Time      `json:"timestamp"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type RouteImprovement struct {
	RouteID         string  `json:"routeId"`
	DistanceSavedKm float64 `json:"distanceSavedKm"`
	TimeSavedMin    float64 `json:"timeSavedMin"`
}

type ReOptimizationResult struct {
	Success          bool                  `json:"success"`
	Message          string                `json:"message,omitempty"`
	Trigger          ReOptimizationTrigger `json:"trigger"`
	UpdatedRoutes    []Route               `json:"updatedRoutes,omitempty"`
	CancelledRoutes  []string              `json:"cancelledRoutes,omitempty"`
	Improvements     []RouteImprovement    `json:"improvements,omitempty"`
	Broadcasts       []RouteUpdate         `json:"broadcasts,omitempty"`
	OptimizationTime time.Duration         `json:"optimizationTime"`
	AlgorithmUsed    string                `json:"algorithmUsed,omitempty"`
	FallbackUsed     bool                  `json:"fallbackUsed"`
}

type UpdateType string

const (
	UpdateAlternativeRoute UpdateType = "alternative_route"
	UpdateRouteChange      UpdateType = "route_change"
	UpdateStopReorder      UpdateType = "stop_reorder"
	UpdateTimeAdjustment   UpdateType = "time_adjustment"
)

// RouteUpdate is one notification record for an updated route.
type RouteUpdate struct {
	RouteID   string     `json:"routeId"`
	VehicleID string     `json:"vehicleId"`
	Type      UpdateType `json:"updateType"`
	NewRoute  Route      `json:"newRoute"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
	Urgency   Severity   `json:"urgency"`
}
