package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/repository"
)

func sub(id, queueID string, at time.Time) *domain.Subscription {
	return &domain.Subscription{
		ID:         id,
		QueueID:    queueID,
		Repository: "my-repo",
		Branches:   []string{"main"},
		Target:     domain.Target{Kind: domain.TargetWebhook, URL: "http://ci.local/build"},
		CreatedAt:  at,
	}
}

func TestMemorySubscriptionRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySubscriptionRepository()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, s := range []*domain.Subscription{
		sub("b", "q1", t0.Add(time.Minute)),
		sub("a", "q1", t0),
		sub("c", "q2", t0),
	} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("list by queue in creation order", func(t *testing.T) {
		got, err := repo.List(ctx, "q1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
			t.Fatalf("unexpected list: %+v", got)
		}
	})

	t.Run("list all", func(t *testing.T) {
		got, _ := repo.List(ctx, "")
		if len(got) != 3 {
			t.Fatalf("expected 3 subscriptions, got %d", len(got))
		}
	})

	t.Run("returned values are copies", func(t *testing.T) {
		got, _ := repo.GetByID(ctx, "a")
		got.Branches[0] = "mutated"
		again, _ := repo.GetByID(ctx, "a")
		if again.Branches[0] != "main" {
			t.Fatal("expected stored subscription to be unaffected")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "c"); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.GetByID(ctx, "c"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Delete(ctx, "c"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}
