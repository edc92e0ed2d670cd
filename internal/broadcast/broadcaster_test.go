package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/model"
)

func TestUpdateTypeMapping(t *testing.T) {
	cases := map[model.TriggerType]model.UpdateType{
		model.TriggerTrafficChange:    model.UpdateAlternativeRoute,
		model.TriggerVehicleBreakdown: model.UpdateRouteChange,
		model.TriggerDeliveryUpdate:   model.UpdateStopReorder,
		model.TriggerComplianceChange: model.UpdateTimeAdjustment,
		model.TriggerManual:           model.UpdateRouteChange,
	}
	for in, want := range cases {
		assert.Equal(t, want, UpdateTypeFor(in), string(in))
	}
}

func TestUpdatesOnePerRoute(t *testing.T) {
	trig := model.ReOptimizationTrigger{Type: model.TriggerTrafficChange, Severity: model.SeverityCritical, Description: "jam on ring road"}
	routes := []model.Route{
		{ID: "R1", VehicleID: "V1", Stops: []model.Stop{{Sequence: 1, DeliveryID: "D1"}}},
		{ID: "R2", VehicleID: "V2"},
	}
	ups := New().Updates(trig, routes)
	require.Len(t, ups, 2)
	assert.Equal(t, "R1", ups[0].RouteID)
	assert.Equal(t, "V1", ups[0].VehicleID)
	assert.Equal(t, model.UpdateAlternativeRoute, ups[0].Type)
	assert.Equal(t, model.SeverityCritical, ups[0].Urgency)
	assert.Equal(t, "traffic_change: jam on ring road", ups[0].Reason)
	assert.False(t, ups[0].Timestamp.IsZero())

	routes[0].Stops[0].DeliveryID = "mutated"
	assert.Equal(t, "D1", ups[0].NewRoute.Stops[0].DeliveryID)
}
