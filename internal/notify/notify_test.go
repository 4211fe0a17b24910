package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/notify"
	"github.com/notifyhub/repo-trigger/internal/ratelimiter"
)

var event = domain.ChangeEvent{
	Repository: "my-repo",
	Branch:     "refs/heads/main",
	Kind:       domain.KindUpdated,
	CommitID:   "abc123",
	MessageID:  "m-1",
	Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
}

func webhookSub(url string) *domain.Subscription {
	return &domain.Subscription{
		ID:         "sub-1",
		QueueID:    "q1",
		Repository: "my-repo",
		Branches:   []string{"main"},
		Target:     domain.Target{Kind: domain.TargetWebhook, URL: url},
	}
}

func TestWebhookListener_PostsEvent(t *testing.T) {
	var got notify.BuildRequest
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := notify.NewFactory(notify.NewWebhookClient(time.Second, ratelimiter.New(0)), nil)
	l, err := f.Listener(webhookSub(srv.URL + "/build"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.SubscriptionID != "sub-1" || got.Event.CommitID != "abc123" || got.Event.Branch != "refs/heads/main" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if header.Get("Content-Type") != "application/json" || header.Get("X-Message-ID") != "m-1" {
		t.Fatalf("unexpected headers: %v", header)
	}
}

func TestWebhookListener_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := notify.NewFactory(notify.NewWebhookClient(time.Second, ratelimiter.New(0)), nil)
	l, _ := f.Listener(webhookSub(srv.URL))
	if err := l.Notify(context.Background(), event); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestWebhookListener_RateLimitHonoursContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := notify.NewFactory(notify.NewWebhookClient(time.Second, ratelimiter.New(1)), nil)
	l, _ := f.Listener(webhookSub(srv.URL))
	if err := l.Notify(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Notify(ctx, event); err == nil {
		t.Fatal("expected the second call to fail waiting for a token")
	}
	if calls != 1 {
		t.Fatalf("expected 1 request, got %d", calls)
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	body [][]byte
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.body = append(p.body, body)
	return p.err
}

func TestAMQPListener_Publishes(t *testing.T) {
	pub := &recordingPublisher{}
	f := notify.NewFactory(notify.NewWebhookClient(time.Second, ratelimiter.New(0)), pub)

	l, err := f.Listener(&domain.Subscription{
		ID:     "sub-2",
		Target: domain.Target{Kind: domain.TargetAMQP, RoutingKey: "builds.my-repo"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Notify(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	if len(pub.keys) != 1 || pub.keys[0] != "builds.my-repo" {
		t.Fatalf("unexpected routing keys: %v", pub.keys)
	}
	var req notify.BuildRequest
	if err := json.Unmarshal(pub.body[0], &req); err != nil {
		t.Fatal(err)
	}
	if req.SubscriptionID != "sub-2" || req.Event.Repository != "my-repo" {
		t.Fatalf("unexpected payload: %+v", req)
	}
}

func TestAMQPListener_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}
	f := notify.NewFactory(notify.NewWebhookClient(time.Second, ratelimiter.New(0)), pub)
	l, _ := f.Listener(&domain.Subscription{
		ID:     "sub-2",
		Target: domain.Target{Kind: domain.TargetAMQP, RoutingKey: "builds"},
	})
	if err := l.Notify(context.Background(), event); err == nil {
		t.Fatal("expected the publish error to be returned")
	}
}

func TestFactory_Listener(t *testing.T) {
	f := notify.NewFactory(notify.NewWebhookClient(time.Second, ratelimiter.New(0)), nil)

	t.Run("amqp without broker", func(t *testing.T) {
		_, err := f.Listener(&domain.Subscription{
			ID:     "s",
			Target: domain.Target{Kind: domain.TargetAMQP, RoutingKey: "builds"},
		})
		if !errors.Is(err, domain.ErrAMQPDisabled) {
			t.Fatalf("expected ErrAMQPDisabled, got %v", err)
		}
	})

	t.Run("invalid target", func(t *testing.T) {
		_, err := f.Listener(&domain.Subscription{
			ID:     "s",
			Target: domain.Target{Kind: domain.TargetWebhook, URL: "ftp://example.com"},
		})
		if !errors.Is(err, domain.ErrInvalidTarget) {
			t.Fatalf("expected ErrInvalidTarget, got %v", err)
		}
	})
}
