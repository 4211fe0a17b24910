// Package worker runs long-lived loops on a bounded number of goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// Pool manages a fixed number of slots. Every queue monitor occupies one
// slot for the lifetime of its poll loop, so one queue's backoff never
// delays another queue.
type Pool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	// Hooks for metrics, injected by main so the pool stays metrics-agnostic.
	onAcquire func()
	onRelease func()
}

// NewPool creates a pool with size slots. onAcquire and onRelease are
// optional (nil = no-op).
func NewPool(size int, logger *zap.Logger, onAcquire, onRelease func()) *Pool {
	if size < 1 {
		size = 1
	}
	if onAcquire == nil {
		onAcquire = func() {}
	}
	if onRelease == nil {
		onRelease = func() {}
	}
	return &Pool{
		slots:     make(chan struct{}, size),
		logger:    logger,
		onAcquire: onAcquire,
		onRelease: onRelease,
	}
}

// Go runs fn on a free slot. It fails fast with domain.ErrPoolExhausted
// when every slot is taken. The ctx is forwarded to fn; cancelling it is
// how the caller asks fn to return.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case p.slots <- struct{}{}:
	default:
		return fmt.Errorf("%w: %d slots in use", domain.ErrPoolExhausted, cap(p.slots))
	}

	p.onAcquire()
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.onRelease()
			p.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pooled task panicked", zap.Any("panic", r))
			}
		}()
		fn(ctx)
	}()
	return nil
}

// InUse reports the number of occupied slots.
func (p *Pool) InUse() int { return len(p.slots) }

// Size reports the total number of slots.
func (p *Pool) Size() int { return cap(p.slots) }

// Wait blocks until every running fn has returned.
// Call this after stopping the monitors to ensure in-flight work finishes.
func (p *Pool) Wait() {
	p.wg.Wait()
}
