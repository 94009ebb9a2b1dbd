// Package webhooks delivers dispatched events to the webhook URLs
// configured on each account.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crewdesk/crewdesk/internal/event"
	"github.com/crewdesk/crewdesk/internal/store"
)

const deliveryAttempts = 2

// Deliverer posts every dispatched event to the subscribing account's
// webhook endpoints. Delivery is best effort: failures are logged and never
// surface to the write path that emitted the event.
type Deliverer struct {
	log    *slog.Logger
	store  store.Store
	client *http.Client
}

func NewDeliverer(log *slog.Logger, st store.Store, timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		log:    log.With(slog.String("service", "webhooks")),
		store:  st,
		client: &http.Client{Timeout: timeout},
	}
}

// Register subscribes the deliverer to every event on the hub.
func (d *Deliverer) Register(hub *event.Hub) {
	hub.Subscribe(func(evt event.Event) {
		go d.deliver(evt)
	})
}

// envelope is the wire contract. Field names and the epoch timestamp are
// part of the external compatibility surface.
type envelope struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (d *Deliverer) deliver(evt event.Event) {
	accountID, _ := evt.Payload["account_id"].(string)
	if accountID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	account, err := d.store.GetAccount(ctx, accountID)
	if err != nil {
		d.log.Error("load account for webhook",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return
	}
	if len(account.WebhookURLs) == 0 {
		return
	}

	body, err := json.Marshal(envelope{
		Event:     evt.Name,
		Timestamp: evt.At.Unix(),
		Data:      evt.Payload,
	})
	if err != nil {
		d.log.Error("encode webhook payload", slog.Any("error", err))
		return
	}

	for _, url := range account.WebhookURLs {
		if err := d.post(ctx, url, body); err != nil {
			d.log.Warn("webhook delivery failed",
				slog.String("url", url),
				slog.String("event", evt.Name),
				slog.Any("error", err))
		}
	}
}

func (d *Deliverer) post(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < deliveryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return lastErr
}
