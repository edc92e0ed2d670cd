// Package events carries engine notifications to consumers. Subscriptions are
// keyed by event kind and every subscriber receives its own copy.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cityroute/internal/model"
)

type Kind string

const (
	KindMonitoringStarted       Kind = "monitoring_started"
	KindRouteUpdates            Kind = "route_updates"
	KindReoptimizationCompleted Kind = "reoptimization_completed"
	KindTriggersDetected        Kind = "triggers_detected"
)

type Event struct {
	ID         string                        `json:"id"`
	Kind       Kind                          `json:"kind"`
	At         time.Time                     `json:"at"`
	RouteCount int                           `json:"routeCount,omitempty"`
	Broadcasts []model.RouteUpdate           `json:"broadcasts,omitempty"`
	Result     *model.ReOptimizationResult   `json:"result,omitempty"`
	Triggers   []model.ReOptimizationTrigger `json:"triggers,omitempty"`
}

func New(kind Kind) Event {
	return Event{ID: uuid.NewString(), Kind: kind, At: time.Now()}
}

// Clone deep-copies the event so subscribers never share route data.
func (e Event) Clone() Event {
	out := e
	if e.Broadcasts != nil {
		out.Broadcasts = make([]model.RouteUpdate, len(e.Broadcasts))
		for i, b := range e.Broadcasts {
			b.NewRoute = b.NewRoute.Clone()
			out.Broadcasts[i] = b
		}
	}
	if e.Result != nil {
		r := *e.Result
		r.UpdatedRoutes = cloneRoutes(e.Result.UpdatedRoutes)
		r.CancelledRoutes = append([]string(nil), e.Result.CancelledRoutes...)
		r.Improvements = append([]model.RouteImprovement(nil), e.Result.Improvements...)
		r.Broadcasts = append([]model.RouteUpdate(nil), e.Result.Broadcasts...)
		out.Result = &r
	}
	if e.Triggers != nil {
		out.Triggers = append([]model.ReOptimizationTrigger(nil), e.Triggers...)
	}
	return out
}

func cloneRoutes(in []model.Route) []model.Route {
	if in == nil {
		return nil
	}
	out := make([]model.Route, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// Publisher is what the monitor needs to emit events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type EventBroker interface {
	Publisher
	Subscribe(ctx context.Context, kind Kind) (chan Event, error)
	Unsubscribe(kind Kind, ch chan Event)
}

// Broker is an in-process EventBroker. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Broker struct {
	mu   sync.Mutex
	subs map[Kind]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[Kind]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(_ context.Context, kind Kind) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[kind] == nil {
		b.subs[kind] = map[chan Event]struct{}{}
	}
	b.subs[kind][ch] = struct{}{}
	b.mu.Unlock()
	return ch, nil
}

func (b *Broker) Unsubscribe(kind Kind, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[kind]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, kind)
	}
	close(ch)
}

func (b *Broker) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[evt.Kind] {
		select {
		case ch <- evt.Clone():
		default:
		}
	}
	return nil
}

// Fanout publishes to several publishers, returning the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
