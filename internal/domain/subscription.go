package domain

import (
	"context"
	"strings"
	"time"
)

// Listener receives matched change events. Notify is invoked once per
// matched (event, subscriber) pair; its error is logged and never retried.
type Listener interface {
	Notify(ctx context.Context, ev ChangeEvent) error
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev ChangeEvent) error

func (f ListenerFunc) Notify(ctx context.Context, ev ChangeEvent) error { return f(ctx, ev) }

// Filter selects the events a subscriber is interested in. Repository may be
// a bare name or any clone URL form; Branches are glob patterns combined
// with OR semantics.
type Filter struct {
	Repository string   `json:"repository"`
	Branches   []string `json:"branches"`
}

func (f Filter) Validate() error {
	if strings.TrimSpace(f.Repository) == "" {
		return ErrInvalidFilter
	}
	for _, b := range f.Branches {
		if strings.TrimSpace(b) != "" {
			return nil
		}
	}
	return ErrInvalidFilter
}

// Subscriber pairs a filter with the listener to call on a match.
type Subscriber struct {
	ID       string
	Filter   Filter
	Listener Listener
}

// TargetKind selects how a persisted subscription is notified.
type TargetKind string

const (
	TargetWebhook TargetKind = "webhook"
	TargetAMQP    TargetKind = "amqp"
)

// Target describes the downstream build trigger of a subscription.
type Target struct {
	Kind       TargetKind `json:"kind"`
	URL        string     `json:"url,omitempty"`
	RoutingKey string     `json:"routing_key,omitempty"`
}

func (t Target) Validate() error {
	switch t.Kind {
	case TargetWebhook:
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			return ErrInvalidTarget
		}
	case TargetAMQP:
		if strings.TrimSpace(t.RoutingKey) == "" {
			return ErrInvalidTarget
		}
	default:
		return ErrInvalidTarget
	}
	return nil
}

// Subscription is the persisted form of a subscriber.
type Subscription struct {
	ID         string    `json:"id"`
	QueueID    string    `json:"queue_id"`
	Repository string    `json:"repository"`
	Branches   []string  `json:"branches"`
	Target     Target    `json:"target"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Subscription) Filter() Filter {
	return Filter{Repository: s.Repository, Branches: s.Branches}
}

// CreateSubscriptionRequest is the inbound payload for a new subscription.
type CreateSubscriptionRequest struct {
	QueueID    string   `json:"queue_id"`
	Repository string   `json:"repository"`
	Branches   []string `json:"branches"`
	Target     Target   `json:"target"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if strings.TrimSpace(r.QueueID) == "" {
		return ErrQueueNotFound
	}
	if err := (Filter{Repository: r.Repository, Branches: r.Branches}).Validate(); err != nil {
		return err
	}
	return r.Target.Validate()
}
