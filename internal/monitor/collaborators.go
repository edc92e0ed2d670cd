package monitor

import (
	"context"
	"time"

	"cityroute/internal/geo"
	"cityroute/internal/model"
)

// TrafficService supplies live traffic for an area.
type TrafficService interface {
	CurrentTraffic(ctx context.Context, area geo.Area) (model.TrafficConditions, error)
	TrafficAlerts(ctx context.Context, area geo.Area) ([]model.TrafficAlert, error)
}

// FleetService resolves live vehicle state. ok is false when the vehicle is unknown.
type FleetService interface {
	GetVehicle(ctx context.Context, id string) (v model.Vehicle, ok bool, err error)
}

// VehicleLister is an optional FleetService extension. Idle vehicles it returns
// are offered to re-optimisation as standby capacity.
type VehicleLister interface {
	ListVehicles(ctx context.Context) ([]model.Vehicle, error)
}

// DeliverySource returns current delivery records. Unknown ids are skipped.
type DeliverySource interface {
	Deliveries(ctx context.Context, ids []string) ([]model.Delivery, error)
}

// DeliveryChangeFeed is an optional DeliverySource extension reporting which of
// ids changed after since.
type DeliveryChangeFeed interface {
	ChangedDeliveries(ctx context.Context, ids []string, since time.Time) ([]string, error)
}

// Optimizer is the solver used for incremental re-optimisation.
type Optimizer interface {
	Optimize(ctx context.Context, req model.RoutingRequest) (model.RoutingResult, error)
}
