package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiters holds one token bucket per key (a subscription id), created
// on first use. Each limiter enforces a steady-state rate; burst is set
// equal to the rate so no extra capacity is allowed beyond the configured
// per-second maximum.
type KeyedLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// New creates a KeyedLimiters granting ratePerSec tokens per second per
// key. A non-positive rate disables limiting.
func New(ratePerSec int) *KeyedLimiters {
	l := &KeyedLimiters{
		limit:    rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
	if ratePerSec > 0 {
		l.limit = rate.Limit(ratePerSec)
		l.burst = ratePerSec
	}
	return l
}

// Wait blocks until the key's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (kl *KeyedLimiters) Wait(ctx context.Context, key string) error {
	return kl.get(key).Wait(ctx)
}

// Forget drops the limiter of key, e.g. when its subscription is deleted.
func (kl *KeyedLimiters) Forget(key string) {
	kl.mu.Lock()
	delete(kl.limiters, key)
	kl.mu.Unlock()
}

func (kl *KeyedLimiters) get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l, ok := kl.limiters[key]
	if !ok {
		l = rate.NewLimiter(kl.limit, kl.burst)
		kl.limiters[key] = l
	}
	return l
}
