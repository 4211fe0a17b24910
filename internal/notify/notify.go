// Package notify holds the listeners that start downstream builds when a
// change event matches a subscription.
package notify

import (
	"fmt"
	"time"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// BuildRequest is the JSON document delivered to build targets.
type BuildRequest struct {
	SubscriptionID string             `json:"subscription_id"`
	Event          domain.ChangeEvent `json:"event"`
	SentAt         time.Time          `json:"sent_at"`
}

// Factory turns persisted subscriptions into listeners.
type Factory struct {
	webhooks  *WebhookClient
	publisher Publisher
}

// NewFactory returns a Factory. publisher may be nil, in which case AMQP
// targets are rejected with domain.ErrAMQPDisabled.
func NewFactory(webhooks *WebhookClient, publisher Publisher) *Factory {
	return &Factory{webhooks: webhooks, publisher: publisher}
}

// Listener builds the listener for s's target.
func (f *Factory) Listener(s *domain.Subscription) (domain.Listener, error) {
	if err := s.Target.Validate(); err != nil {
		return nil, err
	}
	switch s.Target.Kind {
	case domain.TargetWebhook:
		return &WebhookListener{client: f.webhooks, subscriptionID: s.ID, url: s.Target.URL}, nil
	case domain.TargetAMQP:
		if f.publisher == nil {
			return nil, domain.ErrAMQPDisabled
		}
		return &AMQPListener{publisher: f.publisher, subscriptionID: s.ID, routingKey: s.Target.RoutingKey}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTarget, s.Target.Kind)
}

// Forget releases per-subscription state, e.g. its rate limiter.
func (f *Factory) Forget(subscriptionID string) {
	f.webhooks.limiters.Forget(subscriptionID)
}
