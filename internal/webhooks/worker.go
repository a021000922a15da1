package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"fleetroute/internal/metrics"
	"fleetroute/internal/store"
)

const DefaultMaxAttempts = 5

// Worker polls the store for due deliveries and posts them.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	Log         logr.Logger

	now func() time.Time
}

func NewWorker(s store.Store, maxAttempts int, log logr.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		Log:         log.WithName("webhooks"),
		now:         time.Now,
	}
}

// Run processes deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		w.Log.Error(err, "fetch due deliveries")
		return 0
	}
	for _, it := range items {
		code, err := w.deliver(ctx, it)
		success := err == nil
		lastErr := ""
		if err != nil {
			lastErr = err.Error()
		}
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, outcome(success)).Inc()

		switch {
		case success:
			err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, time.Time{}, "", code)
		case it.Attempts+1 >= w.MaxAttempts:
			w.Log.Info("webhook delivery failed permanently", "id", it.ID, "url", it.URL, "attempts", it.Attempts+1, "err", lastErr)
			err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code)
		default:
			err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, w.now().Add(nextBackoff(it.Attempts)), lastErr, code)
		}
		if err != nil {
			w.Log.Error(err, "update delivery", "id", it.ID)
		}
	}
	return len(items)
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, it.EventType)
	req.Header.Set(HeaderDelivery, it.ID)
	if it.Secret != "" {
		req.Header.Set(HeaderSignature, SignHMAC(it.Secret, it.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook %s: status %d", it.URL, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func outcome(ok bool) string {
	if ok {
		return "delivered"
	}
	return "error"
}

func nextBackoff(attempts int) time.Duration {
	attempts = min(max(attempts, 0), 10)
	return min(time.Second*time.Duration(1<<attempts), time.Hour)
}
