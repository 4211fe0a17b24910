package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/monitor"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesDuplicate *prometheus.CounterVec
	DeleteFailures    *prometheus.CounterVec
	ReceiveErrors     *prometheus.CounterVec
	EventsDecoded     *prometheus.CounterVec
	EventsUnmatched   *prometheus.CounterVec
	Dispatched        *prometheus.CounterVec
	ListenerFailures  *prometheus.CounterVec
	PollLatency       *prometheus.HistogramVec
	MonitorState      *prometheus.GaugeVec
	PoolSlotsInUse    prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	byQueue := []string{"queue_id"}
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_messages_received_total",
			Help: "Messages handed out by the queue.",
		}, byQueue),
		MessagesDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_messages_duplicate_total",
			Help: "Redelivered messages suppressed by the dedup cache.",
		}, byQueue),
		DeleteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_delete_failures_total",
			Help: "Processed messages that could not be deleted and will be redelivered.",
		}, byQueue),
		ReceiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_receive_errors_total",
			Help: "Receive calls that failed with a transport error.",
		}, byQueue),
		EventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_decoded_total",
			Help: "Change events extracted from message bodies.",
		}, byQueue),
		EventsUnmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_unmatched_total",
			Help: "Change events that matched no subscriber.",
		}, byQueue),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listener_notifications_total",
			Help: "Successful listener notifications.",
		}, byQueue),
		ListenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listener_failures_total",
			Help: "Listener notifications that failed, timed out or panicked.",
		}, byQueue),
		PollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_receive_seconds",
			Help:    "Duration of successful receive calls, including long-poll wait.",
			Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 15, 20, 25},
		}, byQueue),
		MonitorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_monitor_state",
			Help: "Monitor state per queue: 0 stopped, 1 polling, 2 backoff, 3 terminated.",
		}, byQueue),
		PoolSlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_pool_slots_in_use",
			Help: "Worker pool slots currently occupied by poll loops.",
		}),
	}

	reg.MustRegister(
		m.MessagesReceived,
		m.MessagesDuplicate,
		m.DeleteFailures,
		m.ReceiveErrors,
		m.EventsDecoded,
		m.EventsUnmatched,
		m.Dispatched,
		m.ListenerFailures,
		m.PollLatency,
		m.MonitorState,
		m.PoolSlotsInUse,
	)

	return m
}

// MonitorHooks returns the callbacks expected by monitor.WithHooks.
// Centralises the prometheus observation calls so the monitor stays
// import-free.
func (m *Metrics) MonitorHooks() monitor.Hooks {
	return monitor.Hooks{
		OnPoll: func(queueID string, latency time.Duration) {
			m.PollLatency.WithLabelValues(queueID).Observe(latency.Seconds())
		},
		OnReceived: func(queueID string, n int) {
			m.MessagesReceived.WithLabelValues(queueID).Add(float64(n))
		},
		OnReceiveError: func(queueID string) {
			m.ReceiveErrors.WithLabelValues(queueID).Inc()
		},
		OnDuplicate: func(queueID string) {
			m.MessagesDuplicate.WithLabelValues(queueID).Inc()
		},
		OnEvents: func(queueID string, n int) {
			m.EventsDecoded.WithLabelValues(queueID).Add(float64(n))
		},
		OnUnmatched: func(queueID string) {
			m.EventsUnmatched.WithLabelValues(queueID).Inc()
		},
		OnDispatched: func(queueID string) {
			m.Dispatched.WithLabelValues(queueID).Inc()
		},
		OnListenerFailed: func(queueID string) {
			m.ListenerFailures.WithLabelValues(queueID).Inc()
		},
		OnState: func(queueID string, s domain.MonitorState) {
			m.MonitorState.WithLabelValues(queueID).Set(float64(s))
		},
	}
}

// OnDeleteFailed matches the channel factory's delete failure callback.
func (m *Metrics) OnDeleteFailed(queueID string, n int) {
	m.DeleteFailures.WithLabelValues(queueID).Add(float64(n))
}

// PoolHooks returns the slot acquire/release callbacks for worker.NewPool.
func (m *Metrics) PoolHooks() (onAcquire, onRelease func()) {
	onAcquire = func() { m.PoolSlotsInUse.Inc() }
	onRelease = func() { m.PoolSlotsInUse.Dec() }
	return
}

// Forget drops every per-queue series of a removed queue.
func (m *Metrics) Forget(queueID string) {
	labels := prometheus.Labels{"queue_id": queueID}
	for _, vec := range []*prometheus.MetricVec{
		m.MessagesReceived.MetricVec,
		m.MessagesDuplicate.MetricVec,
		m.DeleteFailures.MetricVec,
		m.ReceiveErrors.MetricVec,
		m.EventsDecoded.MetricVec,
		m.EventsUnmatched.MetricVec,
		m.Dispatched.MetricVec,
		m.ListenerFailures.MetricVec,
		m.PollLatency.MetricVec,
		m.MonitorState.MetricVec,
	} {
		vec.DeletePartialMatch(labels)
	}
}
