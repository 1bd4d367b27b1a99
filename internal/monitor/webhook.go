// webhook.go delivers trigger notifications to the strategy engine.
//
// Delivery is at-most-once: the task has already flipped to triggered by the
// time a webhook goes out, and a failed POST is logged but never retried.
// The receiving side treats replays as no-ops anyway, so the simple policy
// holds.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"optionflow/pkg/types"
)

// WebhookDispatcher POSTs trigger payloads to per-task webhook URLs.
type WebhookDispatcher struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewWebhookDispatcher creates a dispatcher with the given per-delivery timeout.
func NewWebhookDispatcher(timeout time.Duration, logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		logger: logger.With("component", "webhook"),
	}
}

// Deliver POSTs the payload to url. Non-2xx responses are errors.
func (d *WebhookDispatcher) Deliver(ctx context.Context, url string, payload types.WebhookPayload) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("post webhook: status %d: %s", resp.StatusCode(), resp.String())
	}
	d.logger.Info("webhook delivered",
		"task_id", payload.TaskID, "direction", payload.TriggerDirection,
		"triggered_price", payload.TriggeredPrice)
	return nil
}
