package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cityroute/internal/model"
)

// Memory is the in-process store used when no database is configured.
type Memory struct {
	mu         sync.RWMutex
	vehicles   map[string]model.Vehicle
	deliveries map[string]model.Delivery
	changedAt  map[string]time.Time // delivery id -> last write
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		vehicles:   map[string]model.Vehicle{},
		deliveries: map[string]model.Delivery{},
		changedAt:  map[string]time.Time{},
		now:        time.Now,
	}
}

func (m *Memory) PutVehicles(vs ...model.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vs {
		m.vehicles[v.ID] = v
	}
}

func (m *Memory) PutDeliveries(ds ...model.Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now()
	for _, d := range ds {
		m.deliveries[d.ID] = d
		m.changedAt[d.ID] = at
	}
}

func (m *Memory) SetVehicleStatus(_ context.Context, id string, status model.VehicleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	m.vehicles[id] = v
	return nil
}

func (m *Memory) UpdateVehicleLocation(_ context.Context, id string, p model.GeoPoint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return ErrNotFound
	}
	v.Location, v.LocationAt = p, at
	m.vehicles[id] = v
	return nil
}

func (m *Memory) GetVehicle(_ context.Context, id string) (model.Vehicle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	return v, ok, nil
}

func (m *Memory) ListVehicles(_ context.Context) ([]model.Vehicle, error) {
	m.mu.RLock()
	out := make([]model.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	m.mu.RUnlock()
	sortVehicles(out)
	return out, nil
}

func (m *Memory) Deliveries(_ context.Context, ids []string) ([]model.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return orderByIDs(ids, m.deliveries), nil
}

// ChangedDeliveries returns the ids among ids written after since, sorted.
func (m *Memory) ChangedDeliveries(_ context.Context, ids []string, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if at, ok := m.changedAt[id]; ok && at.After(since) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
