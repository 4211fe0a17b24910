package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound          = errors.New("not found")
	ErrQueueNotFound     = errors.New("queue is not configured")
	ErrInvalidConfig     = errors.New("invalid queue configuration")
	ErrInvalidFilter     = errors.New("invalid filter: repository and at least one branch pattern are required")
	ErrInvalidTarget     = errors.New("invalid target: must be a webhook url or an amqp routing key")
	ErrTransport         = errors.New("queue transport failure")
	ErrMonitorTerminated = errors.New("monitor is terminated")
	ErrPoolExhausted     = errors.New("worker pool is at capacity")
	ErrAMQPDisabled      = errors.New("amqp targets are not enabled on this server")
)

// TransportError wraps a network or authentication failure returned by
// the queue service. It matches ErrTransport with errors.Is.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
