package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/ratelimiter"
)

// WebhookClient is the HTTP client shared by all webhook listeners. Calls
// are rate limited per subscription.
type WebhookClient struct {
	httpClient *http.Client
	limiters   *ratelimiter.KeyedLimiters
}

func NewWebhookClient(timeout time.Duration, limiters *ratelimiter.KeyedLimiters) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiters: limiters,
	}
}

// WebhookListener POSTs matched events to a build server endpoint.
type WebhookListener struct {
	client         *WebhookClient
	subscriptionID string
	url            string
}

// Notify posts the event and expects any 2xx response.
func (l *WebhookListener) Notify(ctx context.Context, ev domain.ChangeEvent) error {
	if err := l.client.limiters.Wait(ctx, l.subscriptionID); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(BuildRequest{
		SubscriptionID: l.subscriptionID,
		Event:          ev,
		SentAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ev.MessageID != "" {
		req.Header.Set("X-Message-ID", ev.MessageID)
	}

	resp, err := l.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected webhook status: %d", resp.StatusCode)
	}
	return nil
}

// compile-time check that WebhookListener implements domain.Listener
var _ domain.Listener = (*WebhookListener)(nil)
