package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// MemorySubscriptionRepository is an in-memory SubscriptionRepository. It
// is used in unit tests and when no DATABASE_URL is configured; its
// contents do not survive a restart.
type MemorySubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]*domain.Subscription

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr error
	ListErr   error
}

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subs: make(map[string]*domain.Subscription)}
}

func (m *MemorySubscriptionRepository) Create(_ context.Context, s *domain.Subscription) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = clone(s)
	return nil
}

func (m *MemorySubscriptionRepository) GetByID(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(s), nil
}

func (m *MemorySubscriptionRepository) List(_ context.Context, queueID string) ([]*domain.Subscription, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Subscription
	for _, s := range m.subs {
		if queueID == "" || s.QueueID == queueID {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemorySubscriptionRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func clone(s *domain.Subscription) *domain.Subscription {
	c := *s
	c.Branches = append([]string(nil), s.Branches...)
	return &c
}

var _ SubscriptionRepository = (*MemorySubscriptionRepository)(nil)
