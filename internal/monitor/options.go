package monitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/dedup"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithSubscribers makes the monitor dispatch to an existing subscriber set.
func WithSubscribers(s *SubscriberSet) Option {
	return func(m *Monitor) { m.subs = s }
}

// WithDeduplicator makes the monitor share existing dedup state.
func WithDeduplicator(d *dedup.Deduplicator) Option {
	return func(m *Monitor) { m.dedup = d }
}

// WithDedupWindow sizes the dedup state the monitor creates when none is
// shared with it. It has no effect together with WithDeduplicator.
func WithDedupWindow(window time.Duration, capacity int) Option {
	return func(m *Monitor) {
		if window > 0 {
			m.dedupWindow = window
		}
		if capacity > 0 {
			m.dedupCapacity = capacity
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(m *Monitor) { m.hooks = h }
}

// WithBackoff sets the retry delay after the n-th consecutive receive
// failure to base·2^(n-1), capped at max. After maxFailures consecutive
// failures the monitor terminates; zero means never.
func WithBackoff(base, max time.Duration, maxFailures int) Option {
	return func(m *Monitor) {
		if base > 0 {
			m.backoffBase = base
		}
		if max > 0 {
			m.backoffMax = max
		}
		m.maxFailures = maxFailures
	}
}

// WithOnTerminated registers the callback invoked once when the monitor
// gives up after repeated failures. It is not called by Stop.
func WithOnTerminated(fn func(queueID string, err error)) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.onTerminated = fn
		}
	}
}

// WithListenerTimeout bounds every single listener invocation.
func WithListenerTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.listenerTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.baseLogger = l
		}
	}
}
