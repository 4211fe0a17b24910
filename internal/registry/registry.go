// Package registry keeps one queue monitor per configured queue and swaps
// monitors on reconfiguration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/channel"
	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/monitor"
)

// ChannelFactory builds the transport for a queue. *channel.Factory
// implements it.
type ChannelFactory interface {
	NewChannel(ctx context.Context, cfg config.QueueConfig) (channel.Channel, error)
}

// Registry maps queue ids to their active monitor.
type Registry struct {
	factory ChannelFactory
	pool    monitor.Spawner
	opts    []monitor.Option
	logger  *zap.Logger

	onRemove func(queueID string)

	// changeMu serializes structural changes (reconfigure, remove,
	// shutdown). mu only guards the maps.
	changeMu sync.Mutex
	mu       sync.RWMutex
	monitors map[string]*monitor.Monitor
	fatal    map[string]error
	// applied holds the ids owned by Apply. Queues added only through
	// Reconfigure are never removed by a reconciliation.
	applied map[string]struct{}
}

// New returns an empty registry. opts are applied to every monitor it
// creates; the registry adds its own termination callback.
func New(factory ChannelFactory, pool monitor.Spawner, logger *zap.Logger, opts ...monitor.Option) *Registry {
	return &Registry{
		factory:  factory,
		pool:     pool,
		opts:     opts,
		logger:   logger,
		onRemove: func(string) {},
		monitors: make(map[string]*monitor.Monitor),
		fatal:    make(map[string]error),
		applied:  make(map[string]struct{}),
	}
}

// OnRemove registers a callback invoked after a queue was removed, e.g. to
// drop its metric series.
func (r *Registry) OnRemove(fn func(queueID string)) {
	if fn != nil {
		r.onRemove = fn
	}
}

// Reconfigure creates the monitor for cfg.ID, or replaces the current one
// when its configuration changed or it has terminated. The replacement
// inherits subscribers and dedup state and is started before the outgoing
// monitor is stopped.
func (r *Registry) Reconfigure(ctx context.Context, cfg config.QueueConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.changeMu.Lock()
	defer r.changeMu.Unlock()

	old, _ := r.Get(cfg.ID)
	if old != nil && old.Config() == cfg && old.State() != domain.StateTerminated {
		return nil
	}

	ch, err := r.factory.NewChannel(ctx, cfg)
	if err != nil {
		r.logger.Error("queue cannot be started", zap.String("queue_id", cfg.ID), zap.Error(err))
		return fmt.Errorf("queue %s: %w", cfg.ID, err)
	}

	opts := append(append([]monitor.Option{}, r.opts...), monitor.WithOnTerminated(r.terminated))
	var next *monitor.Monitor
	if old != nil {
		next = monitor.Successor(old, cfg, ch, opts...)
	} else {
		next = monitor.New(cfg, ch, opts...)
	}

	err = next.Start(r.pool)
	if errors.Is(err, domain.ErrPoolExhausted) && old != nil {
		// No spare slot for an overlapping swap: free the outgoing one first.
		// The slot is released just after the old loop exits.
		r.retire(old)
		old = nil
		err = next.Start(r.pool)
		for attempt := 0; errors.Is(err, domain.ErrPoolExhausted) && attempt < 50 && ctx.Err() == nil; attempt++ {
			time.Sleep(10 * time.Millisecond)
			err = next.Start(r.pool)
		}
	}
	if err != nil {
		_ = ch.Close()
		r.logger.Error("queue cannot be started", zap.String("queue_id", cfg.ID), zap.Error(err))
		return fmt.Errorf("queue %s: %w", cfg.ID, err)
	}

	r.mu.Lock()
	r.monitors[cfg.ID] = next
	delete(r.fatal, cfg.ID)
	r.mu.Unlock()

	if old != nil {
		r.retire(old)
		r.logger.Info("queue reconfigured", zap.String("queue_id", cfg.ID))
	} else {
		r.logger.Info("queue added", zap.String("queue_id", cfg.ID), zap.String("queue", cfg.Name()))
	}
	return nil
}

// Apply reconciles the registry with the complete desired set of queues of
// the queue file: new and changed queues are (re)configured, queues of an
// earlier Apply that are no longer desired are removed. Queues named in
// retain are kept running even though they are absent from cfgs, e.g.
// because their entry currently fails validation. Errors are collected per
// queue; one failing queue does not block the others.
func (r *Registry) Apply(ctx context.Context, cfgs []config.QueueConfig, retain ...string) error {
	var errs []error
	desired := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		desired[cfg.ID] = struct{}{}
		if err := r.Reconfigure(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}

	kept := make(map[string]struct{}, len(retain))
	for _, id := range retain {
		kept[id] = struct{}{}
	}

	r.mu.Lock()
	previous := r.applied
	next := make(map[string]struct{}, len(desired)+len(kept))
	for id := range desired {
		next[id] = struct{}{}
	}
	for id := range previous {
		if _, ok := kept[id]; ok {
			next[id] = struct{}{}
		}
	}
	r.applied = next
	r.mu.Unlock()

	for id := range previous {
		if _, ok := next[id]; ok {
			continue
		}
		if err := r.Remove(id); err != nil && !errors.Is(err, domain.ErrQueueNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove stops and discards the monitor of queueID and closes its channel.
func (r *Registry) Remove(queueID string) error {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()

	r.mu.Lock()
	m, ok := r.monitors[queueID]
	delete(r.monitors, queueID)
	delete(r.fatal, queueID)
	delete(r.applied, queueID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("queue %s: %w", queueID, domain.ErrQueueNotFound)
	}

	r.retire(m)
	r.onRemove(queueID)
	r.logger.Info("queue removed", zap.String("queue_id", queueID))
	return nil
}

// Shutdown stops every monitor and closes every channel.
func (r *Registry) Shutdown() {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()

	r.mu.Lock()
	monitors := make([]*monitor.Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.monitors = make(map[string]*monitor.Monitor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			r.retire(m)
		}(m)
	}
	wg.Wait()
}

// Subscribe adds sub to the queue's subscriber set.
func (r *Registry) Subscribe(queueID string, sub domain.Subscriber) error {
	m, ok := r.Get(queueID)
	if !ok {
		return fmt.Errorf("queue %s: %w", queueID, domain.ErrQueueNotFound)
	}
	return m.Subscribe(sub)
}

// Unsubscribe removes a subscriber from the queue's subscriber set.
func (r *Registry) Unsubscribe(queueID, subscriberID string) error {
	m, ok := r.Get(queueID)
	if !ok {
		return fmt.Errorf("queue %s: %w", queueID, domain.ErrQueueNotFound)
	}
	if !m.Unsubscribe(subscriberID) {
		return fmt.Errorf("subscriber %s: %w", subscriberID, domain.ErrNotFound)
	}
	return nil
}

// Get returns the active monitor of queueID.
func (r *Registry) Get(queueID string) (*monitor.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[queueID]
	return m, ok
}

// Status returns one entry per queue, ordered by queue id. A fatal
// termination is reported as the entry's last error.
func (r *Registry) Status() []domain.MonitorStatus {
	r.mu.RLock()
	out := make([]domain.MonitorStatus, 0, len(r.monitors))
	for id, m := range r.monitors {
		st := m.Status()
		if err, ok := r.fatal[id]; ok {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].QueueID < out[j].QueueID })
	return out
}

func (r *Registry) retire(m *monitor.Monitor) {
	m.Stop()
	if err := m.Channel().Close(); err != nil {
		r.logger.Warn("close channel failed", zap.String("queue_id", m.Config().ID), zap.Error(err))
	}
}

// terminated records a fatal monitor failure. Notifications from a monitor
// that has already been replaced are ignored.
func (r *Registry) terminated(queueID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[queueID]
	if !ok || m.State() != domain.StateTerminated {
		return
	}
	r.fatal[queueID] = err
	r.logger.Error("queue monitor terminated; reconfigure the queue to restart it",
		zap.String("queue_id", queueID), zap.Error(err))
}
