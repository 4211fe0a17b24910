package domain

import "time"

// EventKind classifies a repository change.
type EventKind string

const (
	KindCreated EventKind = "created"
	KindUpdated EventKind = "updated"
	KindDeleted EventKind = "deleted"
)

// RawMessage is one message as handed out by the queue. It only lives for
// the duration of a single poll iteration.
type RawMessage struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// ChangeEvent is the normalized form of one repository change notification.
// Repository holds the canonical repository name, Branch the reference
// exactly as the source system supplied it (e.g. refs/heads/main).
type ChangeEvent struct {
	Repository string    `json:"repository"`
	Branch     string    `json:"branch"`
	Kind       EventKind `json:"kind"`
	CommitID   string    `json:"commit_id"`
	Timestamp  time.Time `json:"timestamp"`
	EventName  string    `json:"event_name,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
}
