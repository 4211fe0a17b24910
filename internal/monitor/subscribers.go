package monitor

import (
	"sort"
	"sync"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// SubscriberSet is the mutable set of subscribers of one queue. It is owned
// by exactly one live monitor at a time and handed to the successor on
// reconfiguration.
type SubscriberSet struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscriber
}

func NewSubscriberSet() *SubscriberSet {
	return &SubscriberSet{subs: make(map[string]domain.Subscriber)}
}

// Add inserts or replaces the subscriber with s.ID.
func (s *SubscriberSet) Add(sub domain.Subscriber) {
	s.mu.Lock()
	s.subs[sub.ID] = sub
	s.mu.Unlock()
}

// Remove deletes the subscriber and reports whether it was present.
func (s *SubscriberSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	return true
}

func (s *SubscriberSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Snapshot returns a copy of the current subscribers ordered by id.
// Mutations after the call do not affect the returned slice.
func (s *SubscriberSet) Snapshot() []domain.Subscriber {
	s.mu.RLock()
	out := make([]domain.Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
