// Package store holds the fleet and delivery records the engine reads: vehicle
// state for re-optimisation and delivery documents for the remaining work.
package store

import (
	"errors"
	"sort"

	"cityroute/internal/model"
)

var ErrNotFound = errors.New("not found")

// orderByIDs returns the deliveries found in byID in the order of ids.
func orderByIDs(ids []string, byID map[string]model.Delivery) []model.Delivery {
	out := make([]model.Delivery, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, d)
		}
	}
	return out
}

func sortVehicles(vs []model.Vehicle) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}
