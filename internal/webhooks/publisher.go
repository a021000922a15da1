package webhooks

import (
	"context"
	"encoding/json"

	"github.com/go-logr/logr"

	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// Target is one configured webhook endpoint. Secret signs the body when set.
type Target struct {
	URL    string
	Secret string
}

// Publisher queues events for every configured target.
type Publisher struct {
	Store   store.Store
	Targets []Target
	Log     logr.Logger
}

func NewPublisher(s store.Store, targets []Target, log logr.Logger) *Publisher {
	return &Publisher{Store: s, Targets: targets, Log: log}
}

// Emit enqueues ev for delivery. Failures are logged; events are best effort.
func (p *Publisher) Emit(ctx context.Context, ev model.Event) {
	if p == nil || len(p.Targets) == 0 {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.Log.Error(err, "encode webhook event", "type", ev.Type)
		return
	}
	for _, t := range p.Targets {
		if _, err := p.Store.EnqueueWebhook(ctx, ev.Type, t.URL, t.Secret, body); err != nil {
			p.Log.Error(err, "enqueue webhook", "type", ev.Type, "url", t.URL)
		}
	}
}
