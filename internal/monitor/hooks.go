package monitor

import (
	"time"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// Hooks carries the metric callbacks injected by main, so the monitor stays
// metrics-agnostic. Any nil field is a no-op.
type Hooks struct {
	OnPoll           func(queueID string, latency time.Duration)
	OnReceived       func(queueID string, n int)
	OnReceiveError   func(queueID string)
	OnDuplicate      func(queueID string)
	OnEvents         func(queueID string, n int)
	OnUnmatched      func(queueID string)
	OnDispatched     func(queueID string)
	OnListenerFailed func(queueID string)
	OnState          func(queueID string, s domain.MonitorState)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnPoll == nil {
		h.OnPoll = func(string, time.Duration) {}
	}
	if h.OnReceived == nil {
		h.OnReceived = func(string, int) {}
	}
	if h.OnReceiveError == nil {
		h.OnReceiveError = func(string) {}
	}
	if h.OnDuplicate == nil {
		h.OnDuplicate = func(string) {}
	}
	if h.OnEvents == nil {
		h.OnEvents = func(string, int) {}
	}
	if h.OnUnmatched == nil {
		h.OnUnmatched = func(string) {}
	}
	if h.OnDispatched == nil {
		h.OnDispatched = func(string) {}
	}
	if h.OnListenerFailed == nil {
		h.OnListenerFailed = func(string) {}
	}
	if h.OnState == nil {
		h.OnState = func(string, domain.MonitorState) {}
	}
	return h
}
