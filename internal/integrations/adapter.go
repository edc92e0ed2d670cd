// Package integrations brings deliveries in from external order systems.
package integrations

import (
	"context"
	"strings"

	"cityroute/internal/model"
)

// OrderSource is an external system that hands over deliveries to plan.
type OrderSource interface {
	Name() string
	FetchDeliveries(ctx context.Context) ([]model.Delivery, error)
}

// MapStatus translates a carrier status code into a stop status. Unknown
// codes map to pending.
func MapStatus(code string) model.StopStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "DELIVERED", "COMPLETED", "POD":
		return model.StopCompleted
	case "ARRIVED", "AT_STOP":
		return model.StopArrived
	case "CANCELLED", "REFUSED", "SKIPPED":
		return model.StopSkipped
	}
	return model.StopPending
}

// Pending drops deliveries whose carrier status says they need no stop.
func Pending(ds []model.Delivery, status map[string]string) []model.Delivery {
	out := ds[:0:0]
	for _, d := range ds {
		switch MapStatus(status[d.ID]) {
		case model.StopCompleted, model.StopSkipped:
			continue
		}
		out = append(out, d)
	}
	return out
}
