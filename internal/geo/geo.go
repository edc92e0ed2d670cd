// Package geo provides great-circle distance helpers used by the solver and monitor.
package geo

import (
	"math"

	"cityroute/internal/model"
)

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// DistanceKm is the great-circle distance between two points in kilometres.
func DistanceKm(a, b model.GeoPoint) float64 {
	return HaversineMeters(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}

// PathKm sums the segment lengths of an ordered point sequence.
func PathKm(points []model.GeoPoint) float64 {
	total := 0.0
	for i := 0; i+1 < len(points); i++ {
		total += DistanceKm(points[i], points[i+1])
	}
	return total
}

// TravelMinutes converts a distance to driving minutes at speedKph.
func TravelMinutes(km, speedKph float64) float64 {
	if speedKph <= 0 {
		return 0
	}
	return km / speedKph * 60
}

// Nearest returns the index of the candidate closest to p, or -1 when there are none.
// Ties go to the lower index.
func Nearest(p model.GeoPoint, candidates []model.GeoPoint) int {
	best, bestD := -1, math.MaxFloat64
	for i, c := range candidates {
		if d := DistanceKm(p, c); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// Area is a latitude/longitude bounding box.
type Area struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// BoundingArea returns the box enclosing points, grown by padKm on every side.
func BoundingArea(padKm float64, points ...model.GeoPoint) Area {
	if len(points) == 0 {
		return Area{}
	}
	a := Area{North: points[0].Lat, South: points[0].Lat, East: points[0].Lng, West: points[0].Lng}
	for _, p := range points[1:] {
		a.North = math.Max(a.North, p.Lat)
		a.South = math.Min(a.South, p.Lat)
		a.East = math.Max(a.East, p.Lng)
		a.West = math.Min(a.West, p.Lng)
	}
	if padKm > 0 {
		dLat := padKm / 111.32
		midLat := (a.North + a.South) / 2 * math.Pi / 180
		dLng := padKm / (111.32 * math.Max(math.Cos(midLat), 0.01))
		a.North += dLat
		a.South -= dLat
		a.East += dLng
		a.West -= dLng
	}
	return a
}

// Contains reports whether p lies inside the box.
func (a Area) Contains(p model.GeoPoint) bool {
	return p.Lat <= a.North && p.Lat >= a.South && p.Lng <= a.East && p.Lng >= a.West
}

func (a Area) Center() model.GeoPoint {
	return model.GeoPoint{Lat: (a.North + a.South) / 2, Lng: (a.East + a.West) / 2}
}
