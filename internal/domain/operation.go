package domain

import (
	"encoding/json"
	"time"
)

// OperationType names a mutation of a list's item collection.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpMove   OperationType = "move"
)

// Valid reports whether t is one of the supported operations.
func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete, OpMove:
		return true
	}
	return false
}

// Operation is the body accepted by the write endpoint. Data holds an Item
// for create/update/move and a DeletePayload for delete.
type Operation struct {
	Operation       OperationType   `json:"operation" validate:"required"`
	Data            json.RawMessage `json:"data" validate:"required"`
	ExpectedVersion *int64          `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

type DeletePayload struct {
	ID string `json:"id" validate:"required"`
}

// ActivityKind classifies a derived activity entry.
type ActivityKind string

const (
	ActivityCreated   ActivityKind = "created"
	ActivityUpdated   ActivityKind = "updated"
	ActivityCompleted ActivityKind = "completed"
	ActivityDeleted   ActivityKind = "deleted"
)

// Activity is one entry of a list's recent activity, derived from item
// timestamps.
type Activity struct {
	ItemID string       `json:"itemId"`
	Text   string       `json:"text"`
	Kind   ActivityKind `json:"kind"`
	At     time.Time    `json:"at"`
}
