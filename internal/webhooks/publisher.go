package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"github.com/google/uuid"

	"mclp/internal/model"
	"mclp/internal/store"
)

// Publisher queues run events for delivery. Every subscription of the tenant
// that lists the event type (or "*") gets a copy, and so does URL when set.
type Publisher struct {
	Store  store.Store
	URL    string
	Secret string
	Logger *log.Logger
}

// NewPublisher returns a Publisher logging to logger; a nil logger discards.
func NewPublisher(s store.Store, url, secret string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Publisher{Store: s, URL: url, Secret: secret, Logger: logger}
}

// Emit enqueues ev for every matching destination. Failures are logged, the
// run itself never fails because of a webhook.
func (p *Publisher) Emit(ctx context.Context, tenantID string, ev model.RunEvent) {
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.New().String()
	}
	payload := map[string]any{
		"id":       ev.ID,
		"type":     ev.Type,
		"tenantId": tenantID,
		"runId":    ev.RunID,
		"ts":       ev.TS,
		"data":     ev.Data,
	}
	body, _ := json.Marshal(payload)
	if p.URL != "" {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, "", ev.Type, p.URL, p.Secret, body); err != nil {
			p.Logger.Printf("webhook enqueue %s: %v", ev.Type, err)
		}
	}
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, ev.Type)
	if err != nil {
		p.Logger.Printf("webhook subscriptions %s: %v", ev.Type, err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, ev.Type, s.URL, s.Secret, body); err != nil {
			p.Logger.Printf("webhook enqueue %s for %s: %v", ev.Type, s.ID, err)
		}
	}
}
