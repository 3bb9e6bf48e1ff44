package domain

import (
	"encoding/json"
	"time"
)

// QueueStatus is the lifecycle state of a write-queue entry.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueInFlight  QueueStatus = "in_flight"
	QueueRetrying  QueueStatus = "retrying"
	QueueSucceeded QueueStatus = "succeeded"
	QueueExhausted QueueStatus = "exhausted"
)

// QueueEntry is a locally originated write waiting to reach the server.
type QueueEntry struct {
	ID         string          `json:"id"`
	ListID     string          `json:"listId"`
	Operation  OperationType   `json:"operation"`
	TargetID   string          `json:"targetId"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	Status     QueueStatus     `json:"status"`
}

// ToOperation builds the write endpoint body for the entry.
func (e *QueueEntry) ToOperation() Operation {
	return Operation{Operation: e.Operation, Data: e.Payload}
}
