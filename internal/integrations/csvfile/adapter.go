// Package csvfile reads deliveries from a CSV export with a header row.
//
// Recognised columns: id, customer_id, pickup_lat, pickup_lng, drop_lat,
// drop_lng, drop_address, drop_zone_id, drop_zone_type, weight_kg, volume_m3,
// priority, service_type, earliest, latest, service_minutes, status. The id and
// both coordinate pairs are required; times are RFC 3339.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cityroute/internal/integrations"
	"cityroute/internal/model"
)

type Adapter struct {
	Path string
}

var _ integrations.OrderSource = Adapter{}

func (a Adapter) Name() string { return "csv-file" }

// FetchDeliveries parses the file and drops rows whose status column marks them
// delivered or cancelled.
func (a Adapter) FetchDeliveries(ctx context.Context) ([]model.Delivery, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("csvfile: %w", err)
	}
	defer f.Close()
	ds, status, err := Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("csvfile %s: %w", a.Path, err)
	}
	return integrations.Pending(ds, status), nil
}

// Parse decodes deliveries and returns the raw status column keyed by id.
func Parse(ctx context.Context, r io.Reader) ([]model.Delivery, map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"id", "pickup_lat", "pickup_lng", "drop_lat", "drop_lng"} {
		if _, ok := col[req]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", req)
		}
	}

	var (
		out    []model.Delivery
		status = map[string]string{}
	)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		rw := &row{rec: rec, col: col}
		d, err := rw.delivery()
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s := rw.str("status"); s != "" {
			status[d.ID] = s
		}
		out = append(out, d)
	}
	return out, status, nil
}

type row struct {
	rec []string
	col map[string]int
	err error
}

func (r *row) str(name string) string {
	i, ok := r.col[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *row) float(name string) float64 {
	s := r.str(name)
	if s == "" || r.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (r *row) time(name string) time.Time {
	s := r.str(name)
	if s == "" || r.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return t
}

func (r *row) delivery() (model.Delivery, error) {
	d := model.Delivery{
		ID:         r.str("id"),
		CustomerID: r.str("customer_id"),
		Pickup: model.Location{
			GeoPoint: model.GeoPoint{Lat: r.float("pickup_lat"), Lng: r.float("pickup_lng")},
		},
		Drop: model.Location{
			GeoPoint: model.GeoPoint{Lat: r.float("drop_lat"), Lng: r.float("drop_lng")},
			Address:  r.str("drop_address"),
			ZoneID:   r.str("drop_zone_id"),
			ZoneType: r.str("drop_zone_type"),
		},
		TimeWindow:     model.TimeWindow{Earliest: r.time("earliest"), Latest: r.time("latest")},
		Shipment:       model.Shipment{WeightKg: r.float("weight_kg"), VolumeM3: r.float("volume_m3")},
		Priority:       model.Priority(strings.ToLower(r.str("priority"))),
		ServiceType:    model.ServiceType(strings.ToLower(r.str("service_type"))),
		ServiceMinutes: int(r.float("service_minutes")),
	}
	if r.err != nil {
		return model.Delivery{}, r.err
	}
	if d.ID == "" {
		return model.Delivery{}, errors.New("id is empty")
	}
	return d, nil
}
