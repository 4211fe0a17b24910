package domain

// MonitorState is the lifecycle state of a queue monitor.
type MonitorState int32

const (
	StateStopped MonitorState = iota
	StatePolling
	StateBackoff
	StateTerminated
)

func (s MonitorState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// MonitorStatus is the operator-facing view of one queue monitor.
type MonitorStatus struct {
	QueueID             string `json:"queue_id"`
	QueueName           string `json:"queue_name"`
	URL                 string `json:"url"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Subscribers         int    `json:"subscribers"`
	LastError           string `json:"last_error,omitempty"`
}
