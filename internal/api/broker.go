package api

import (
	"context"
	"sync"

	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
)

// TopicAll receives every event regardless of type.
const TopicAll = "*"

// EventBroker fans events out to stream subscribers. Topics are event
// types; every event is also delivered on TopicAll.
type EventBroker interface {
	Subscribe(topic string) chan model.Event
	Unsubscribe(topic string, ch chan model.Event)
	Publish(topic string, evt model.Event)
	Emit(ctx context.Context, evt model.Event)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Event]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan model.Event {
	ch := make(chan model.Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan model.Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	metrics.EventSubscribers.Inc()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
	metrics.EventSubscribers.Dec()
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(topic string, evt model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Emit publishes evt on its type topic and on TopicAll.
func (b *Broker) Emit(_ context.Context, evt model.Event) {
	b.Publish(evt.Type, evt)
	b.Publish(TopicAll, evt)
}
