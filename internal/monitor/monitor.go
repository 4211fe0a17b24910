// Package monitor implements the per-queue poll loop: receive, dedup,
// parse, match, dispatch, delete.
//
// A Monitor moves through the states
//
//	Stopped → Polling ⇄ Backoff
//	any     → Terminated
//
// Terminated is absorbing: a monitor is never restarted. The registry
// replaces it with a successor instead.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/channel"
	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/dedup"
	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/event"
	"github.com/notifyhub/repo-trigger/internal/trigger"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultBackoffBase     = time.Second
	DefaultBackoffMax      = 2 * time.Minute
	DefaultMaxFailures     = 10
	DefaultListenerTimeout = 30 * time.Second
	DefaultDedupWindow     = 15 * time.Minute
	DefaultDedupCapacity   = 10000
)

// Spawner runs fn on a bounded goroutine slot. *worker.Pool implements it.
type Spawner interface {
	Go(ctx context.Context, fn func(ctx context.Context)) error
}

// Monitor owns the poll loop of one queue.
type Monitor struct {
	cfg    config.QueueConfig
	ch     channel.Channel
	subs   *SubscriberSet
	dedup  *dedup.Deduplicator
	parser *event.Parser
	hooks  Hooks

	baseLogger *zap.Logger
	logger     *zap.Logger

	backoffBase     time.Duration
	backoffMax      time.Duration
	maxFailures     int
	listenerTimeout time.Duration
	dedupWindow     time.Duration
	dedupCapacity   int
	onTerminated    func(queueID string, err error)

	mu            sync.Mutex
	state         domain.MonitorState
	failures      int
	lastErr       error
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New builds a stopped monitor for cfg reading from ch.
func New(cfg config.QueueConfig, ch channel.Channel, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:             cfg,
		ch:              ch,
		baseLogger:      zap.NewNop(),
		backoffBase:     DefaultBackoffBase,
		backoffMax:      DefaultBackoffMax,
		maxFailures:     DefaultMaxFailures,
		listenerTimeout: DefaultListenerTimeout,
		dedupWindow:     DefaultDedupWindow,
		dedupCapacity:   DefaultDedupCapacity,
		onTerminated:    func(string, error) {},
		state:           domain.StateStopped,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.subs == nil {
		m.subs = NewSubscriberSet()
	}
	if m.dedup == nil {
		m.dedup = dedup.New(m.dedupWindow, m.dedupCapacity)
	}
	m.hooks = m.hooks.withDefaults()
	m.logger = m.baseLogger.With(
		zap.String("queue_id", cfg.ID),
		zap.String("queue", cfg.Name()),
	)
	m.parser = event.NewParser(m.logger)
	return m
}

// Successor builds the replacement for old under a new configuration. The
// successor shares old's subscriber set and dedup state, and inherits its
// settings unless opts override them.
func Successor(old *Monitor, cfg config.QueueConfig, ch channel.Channel, opts ...Option) *Monitor {
	base := []Option{
		WithSubscribers(old.subs),
		WithDeduplicator(old.dedup),
		WithHooks(old.hooks),
		WithBackoff(old.backoffBase, old.backoffMax, old.maxFailures),
		WithListenerTimeout(old.listenerTimeout),
		WithDedupWindow(old.dedupWindow, old.dedupCapacity),
		WithOnTerminated(old.onTerminated),
		WithLogger(old.baseLogger),
	}
	return New(cfg, ch, append(base, opts...)...)
}

// Start validates the configuration and launches the poll loop on a pool
// slot. It fails with domain.ErrInvalidConfig when the queue cannot be
// reached with cfg, and with domain.ErrPoolExhausted when no slot is free.
func (m *Monitor) Start(pool Spawner) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	if m.ch == nil {
		return fmt.Errorf("%w: queue %s has no channel", domain.ErrInvalidConfig, m.cfg.ID)
	}

	m.mu.Lock()
	switch m.state {
	case domain.StateStopped:
	case domain.StateTerminated:
		m.mu.Unlock()
		return domain.ErrMonitorTerminated
	default:
		m.mu.Unlock()
		return fmt.Errorf("monitor for queue %s is already running", m.cfg.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.setStateLocked(domain.StatePolling)
	m.mu.Unlock()
	m.hooks.OnState(m.cfg.ID, domain.StatePolling)

	if err := pool.Go(ctx, func(ctx context.Context) { m.run(ctx, done) }); err != nil {
		cancel()
		m.mu.Lock()
		m.state = domain.StateStopped
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
		m.hooks.OnState(m.cfg.ID, domain.StateStopped)
		return err
	}
	return nil
}

// Stop terminates the monitor. It cancels an in-flight receive and returns
// once the loop has exited; no Delete is issued after Stop returns.
// Stop is idempotent and safe on a monitor that was never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopRequested = true
	m.state = domain.StateTerminated
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Info("monitor started",
		zap.Int("wait_time_seconds", m.cfg.WaitTimeSeconds),
		zap.Int("max_messages", m.cfg.MaxNumberOfMessages),
	)
	defer m.logger.Info("monitor stopped")

	for ctx.Err() == nil {
		err := m.poll(ctx)
		if err == nil {
			m.recordSuccess()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		n := m.recordFailure(err)
		if m.maxFailures > 0 && n >= m.maxFailures {
			m.terminate(err)
			return
		}

		delay := m.backoffDelay(n)
		m.logger.Warn("receive failed, backing off",
			zap.Int("consecutive_failures", n),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		m.setState(domain.StateBackoff)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		m.setState(domain.StatePolling)
	}
}

// poll runs one iteration. Only transport failures are returned.
func (m *Monitor) poll(ctx context.Context) error {
	start := time.Now()
	msgs, err := m.ch.Receive(ctx, m.cfg.MaxNumberOfMessages, m.cfg.WaitTimeSeconds)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.hooks.OnReceiveError(m.cfg.ID)
		return err
	}
	m.hooks.OnPoll(m.cfg.ID, time.Since(start))
	if len(msgs) == 0 {
		return nil
	}
	m.hooks.OnReceived(m.cfg.ID, len(msgs))

	var listeners sync.WaitGroup
	for _, msg := range msgs {
		m.process(ctx, msg, &listeners)
	}

	if !m.isStopRequested() {
		m.ch.Delete(ctx, msgs)
	}

	// Bound in-flight notifications to one iteration. A stop does not wait
	// for listeners; they finish on their own timeout.
	idle := make(chan struct{})
	go func() {
		listeners.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, msg domain.RawMessage, listeners *sync.WaitGroup) {
	id := msg.ID
	if id == "" {
		id = m.parser.MessageID(msg.Body)
	}
	log := m.logger.With(zap.String("message_id", id))

	if !m.dedup.Observe(id) {
		log.Debug("duplicate message suppressed")
		m.hooks.OnDuplicate(m.cfg.ID)
		return
	}

	events := m.parser.Decode(msg.Body)
	m.hooks.OnEvents(m.cfg.ID, len(events))
	if len(events) == 0 {
		return
	}

	subs := m.subs.Snapshot()
	for _, ev := range events {
		matched := 0
		for _, sub := range subs {
			if !trigger.Matches(ev, sub.Filter) {
				continue
			}
			matched++
			listeners.Add(1)
			go func(sub domain.Subscriber, ev domain.ChangeEvent) {
				defer listeners.Done()
				m.notify(ctx, log, sub, ev)
			}(sub, ev)
		}
		if matched == 0 {
			log.Debug("event matched no subscriber",
				zap.String("repository", ev.Repository),
				zap.String("branch", ev.Branch),
			)
			m.hooks.OnUnmatched(m.cfg.ID)
		}
	}
}

// notify invokes one listener in isolation: a panic, error or timeout is
// logged and never reaches the loop or sibling listeners.
func (m *Monitor) notify(ctx context.Context, log *zap.Logger, sub domain.Subscriber, ev domain.ChangeEvent) {
	log = log.With(zap.String("subscriber_id", sub.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("listener panicked", zap.Any("panic", r))
			m.hooks.OnListenerFailed(m.cfg.ID)
		}
	}()

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.listenerTimeout)
	defer cancel()

	if err := sub.Listener.Notify(nctx, ev); err != nil {
		log.Warn("listener failed",
			zap.String("repository", ev.Repository),
			zap.String("branch", ev.Branch),
			zap.Error(err),
		)
		m.hooks.OnListenerFailed(m.cfg.ID)
		return
	}
	m.hooks.OnDispatched(m.cfg.ID)
	log.Info("build triggered",
		zap.String("repository", ev.Repository),
		zap.String("branch", ev.Branch),
		zap.String("commit_id", ev.CommitID),
	)
}

func (m *Monitor) backoffDelay(n int) time.Duration {
	return BackoffDelay(m.backoffBase, m.backoffMax, n)
}

// BackoffDelay returns the delay after the n-th consecutive failure:
// base·2^(n-1), capped at max.
func BackoffDelay(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	return min(d, max)
}

func (m *Monitor) recordSuccess() {
	m.mu.Lock()
	m.failures = 0
	m.lastErr = nil
	m.mu.Unlock()
}

func (m *Monitor) recordFailure(err error) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.lastErr = err
	return m.failures
}

func (m *Monitor) terminate(cause error) {
	m.mu.Lock()
	if m.state == domain.StateTerminated {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateTerminated
	failures := m.failures
	m.mu.Unlock()

	err := fmt.Errorf("%w: %d consecutive receive failures: %w", domain.ErrMonitorTerminated, failures, cause)
	m.logger.Error("monitor terminated", zap.Error(err))
	m.hooks.OnState(m.cfg.ID, domain.StateTerminated)
	m.onTerminated(m.cfg.ID, err)
}

func (m *Monitor) setState(s domain.MonitorState) {
	m.mu.Lock()
	changed := m.setStateLocked(s)
	m.mu.Unlock()
	if changed {
		m.hooks.OnState(m.cfg.ID, s)
	}
}

// setStateLocked never leaves Terminated.
func (m *Monitor) setStateLocked(s domain.MonitorState) bool {
	if m.state == domain.StateTerminated || m.state == s {
		return false
	}
	m.state = s
	return true
}

func (m *Monitor) isStopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequested
}

// Subscribe adds or replaces a subscriber. It takes effect from the next
// dispatch snapshot.
func (m *Monitor) Subscribe(sub domain.Subscriber) error {
	if sub.ID == "" || sub.Listener == nil {
		return errors.New("subscriber needs an id and a listener")
	}
	if err := sub.Filter.Validate(); err != nil {
		return err
	}
	m.subs.Add(sub)
	return nil
}

// Unsubscribe removes the subscriber and reports whether it was present.
func (m *Monitor) Unsubscribe(id string) bool { return m.subs.Remove(id) }

// Subscribers returns the live subscriber set, for transfer to a successor.
func (m *Monitor) Subscribers() *SubscriberSet { return m.subs }

// Dedup returns the dedup state, for transfer to a successor.
func (m *Monitor) Dedup() *dedup.Deduplicator { return m.dedup }

func (m *Monitor) Config() config.QueueConfig { return m.cfg }

func (m *Monitor) Channel() channel.Channel { return m.ch }

func (m *Monitor) State() domain.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Status() domain.MonitorStatus {
	m.mu.Lock()
	st := domain.MonitorStatus{
		QueueID:             m.cfg.ID,
		QueueName:           m.cfg.Name(),
		URL:                 m.cfg.URL,
		State:               m.state.String(),
		ConsecutiveFailures: m.failures,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()
	st.Subscribers = m.subs.Len()
	return st
}
