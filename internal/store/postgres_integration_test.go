//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/model"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("CITYROUTE_DATABASE_URL")
	if dsn == "" {
		t.Skip("CITYROUTE_DATABASE_URL not set; skipping integration test")
	}
	ctx := t.Context()
	p, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.Migrate(ctx))

	since := time.Now().Add(-time.Second)
	require.NoError(t, p.UpsertVehicles(ctx, model.Vehicle{ID: "it-V1", Type: model.VehicleVan, Status: model.StatusAvailable}))
	require.NoError(t, p.UpsertDeliveries(ctx, model.Delivery{ID: "it-D1"}))
	require.NoError(t, p.SetVehicleStatus(ctx, "it-V1", model.StatusBreakdown))

	v, ok, err := p.GetVehicle(ctx, "it-V1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusBreakdown, v.Status)

	ds, err := p.Deliveries(ctx, []string{"it-D1", "it-missing"})
	require.NoError(t, err)
	require.Len(t, ds, 1)

	changed, err := p.ChangedDeliveries(ctx, []string{"it-D1"}, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"it-D1"}, changed)
}
