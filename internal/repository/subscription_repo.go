package repository

import (
	"context"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// SubscriptionRepository defines all persistence operations for subscriptions.
// The pgx implementation is in pg_subscription_repo.go; the in-memory one
// (memory_subscription_repo.go) serves tests and database-less deployments.
type SubscriptionRepository interface {
	Create(ctx context.Context, s *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	// List returns the subscriptions of queueID, or all when queueID is "".
	List(ctx context.Context, queueID string) ([]*domain.Subscription, error)
	Delete(ctx context.Context, id string) error
}
