package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	redis "github.com/redis/go-redis/v9"

	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every API
// replica sees every event.
type RedisBroker struct {
	rdb *redis.Client
	log logr.Logger

	mu   sync.Mutex
	subs map[chan model.Event]*redis.PubSub
}

func NewRedisBroker(url string, log logr.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisBrokerClient(redis.NewClient(opt), log), nil
}

func NewRedisBrokerClient(rdb *redis.Client, log logr.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: log, subs: map[chan model.Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(topic string) chan model.Event {
	ch := make(chan model.Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(topic))
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Error(err, "redis subscribe", "topic", topic)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	metrics.EventSubscribers.Inc()

	msgs := ps.Channel()
	go func() {
		defer close(ch)
		for msg := range msgs {
			var evt model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once its reader
// goroutine drains.
func (b *RedisBroker) Unsubscribe(topic string, ch chan model.Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
		metrics.EventSubscribers.Dec()
	}
}

func (b *RedisBroker) Publish(topic string, evt model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(topic), data).Err(); err != nil {
		b.log.Error(err, "redis publish", "topic", topic)
	}
}

func (b *RedisBroker) Emit(_ context.Context, evt model.Event) {
	b.Publish(evt.Type, evt)
	b.Publish(TopicAll, evt)
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(topic string) string { return "events:" + topic }
