// Package broadcast turns re-solved routes into typed update notifications.
package broadcast

import (
	"fmt"
	"time"

	"cityroute/internal/model"
)

var updateTypes = map[model.TriggerType]model.UpdateType{
	model.TriggerTrafficChange:    model.UpdateAlternativeRoute,
	model.TriggerVehicleBreakdown: model.UpdateRouteChange,
	model.TriggerDeliveryUpdate:   model.UpdateStopReorder,
	model.TriggerComplianceChange: model.UpdateTimeAdjustment,
	model.TriggerManual:           model.UpdateRouteChange,
}

// UpdateTypeFor maps a trigger type to the update type drivers receive.
func UpdateTypeFor(t model.TriggerType) model.UpdateType {
	if u, ok := updateTypes[t]; ok {
		return u
	}
	return model.UpdateRouteChange
}

type Broadcaster struct {
	now func() time.Time
}

func New() *Broadcaster { return &Broadcaster{now: time.Now} }

// Updates builds one record per route, urgency mirroring the trigger severity.
func (b *Broadcaster) Updates(trigger model.ReOptimizationTrigger, routes []model.Route) []model.RouteUpdate {
	ts := b.now()
	out := make([]model.RouteUpdate, 0, len(routes))
	for _, r := range routes {
		out = append(out, model.RouteUpdate{
			RouteID:   r.ID,
			VehicleID: r.VehicleID,
			Type:      UpdateTypeFor(trigger.Type),
			NewRoute:  r.Clone(),
			Reason:    reason(trigger),
			Timestamp: ts,
			Urgency:   trigger.Severity,
		})
	}
	return out
}

func reason(t model.ReOptimizationTrigger) string {
	if t.Description != "" {
		return fmt.Sprintf("%s: %s", t.Type, t.Description)
	}
	return string(t.Type)
}
