package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/registry"
	"github.com/notifyhub/repo-trigger/internal/repository"
)

// ListenerFactory builds the listener of a persisted subscription.
// *notify.Factory implements it.
type ListenerFactory interface {
	Listener(s *domain.Subscription) (domain.Listener, error)
	Forget(subscriptionID string)
}

// SubscriptionService keeps persisted subscriptions and the subscriber sets
// of the running monitors in step. HTTP handlers and startup code depend on
// it, never on the registry directly.
type SubscriptionService struct {
	repo      repository.SubscriptionRepository
	registry  *registry.Registry
	listeners ListenerFactory
	logger    *zap.Logger
}

func NewSubscriptionService(
	repo repository.SubscriptionRepository,
	reg *registry.Registry,
	listeners ListenerFactory,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{repo: repo, registry: reg, listeners: listeners, logger: logger}
}

// Create validates the request, persists the subscription and attaches it to
// the queue's monitor. The queue must be configured.
func (s *SubscriptionService) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.registry.Get(req.QueueID); !ok {
		return nil, fmt.Errorf("queue %s: %w", req.QueueID, domain.ErrQueueNotFound)
	}

	sub := &domain.Subscription{
		ID:         uuid.New().String(),
		QueueID:    req.QueueID,
		Repository: req.Repository,
		Branches:   req.Branches,
		Target:     req.Target,
		CreatedAt:  time.Now().UTC(),
	}
	listener, err := s.listeners.Listener(sub)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	if err := s.attach(sub, listener); err != nil {
		// The queue went away between the check and the insert.
		if delErr := s.repo.Delete(ctx, sub.ID); delErr != nil {
			s.logger.Error("failed to roll back subscription", zap.String("id", sub.ID), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("subscription created",
		zap.String("id", sub.ID),
		zap.String("queue_id", sub.QueueID),
		zap.String("repository", sub.Repository),
		zap.Strings("branches", sub.Branches),
	)
	return sub, nil
}

func (s *SubscriptionService) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the subscriptions of queueID, or every subscription when
// queueID is empty.
func (s *SubscriptionService) List(ctx context.Context, queueID string) ([]*domain.Subscription, error) {
	return s.repo.List(ctx, queueID)
}

// Delete detaches the subscription from its monitor and removes it.
func (s *SubscriptionService) Delete(ctx context.Context, id string) error {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.registry.Unsubscribe(sub.QueueID, sub.ID)
	if err != nil && !errors.Is(err, domain.ErrQueueNotFound) && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.listeners.Forget(id)

	s.logger.Info("subscription deleted", zap.String("id", id), zap.String("queue_id", sub.QueueID))
	return nil
}

// Restore attaches every persisted subscription to its queue's monitor.
// It is run at startup and after each queue file reload; subscriptions of
// queues that are not configured are skipped and reported in the log.
// Returns the number of subscriptions attached.
func (s *SubscriptionService) Restore(ctx context.Context) (int, error) {
	subs, err := s.repo.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	restored := 0
	for _, sub := range subs {
		listener, err := s.listeners.Listener(sub)
		if err != nil {
			s.logger.Warn("subscription cannot be restored", zap.String("id", sub.ID), zap.Error(err))
			continue
		}
		if err := s.attach(sub, listener); err != nil {
			s.logger.Warn("subscription cannot be restored",
				zap.String("id", sub.ID),
				zap.String("queue_id", sub.QueueID),
				zap.Error(err),
			)
			continue
		}
		restored++
	}
	return restored, nil
}

func (s *SubscriptionService) attach(sub *domain.Subscription, listener domain.Listener) error {
	return s.registry.Subscribe(sub.QueueID, domain.Subscriber{
		ID:       sub.ID,
		Filter:   sub.Filter(),
		Listener: listener,
	})
}
