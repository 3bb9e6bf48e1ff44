// Package notify fans out list change notifications to streaming sessions.
//
// The operation processor publishes a Change after every successful write;
// streaming sessions subscribe per list id and push fresh state as soon as a
// change arrives instead of waiting for their next poll. Delivery is
// best-effort: a full subscriber buffer coalesces notifications, and the
// sessions' fixed-interval poll covers anything missed.
package notify

import (
	"context"
	"time"
)

// Change announces that a list was written or deleted.
type Change struct {
	ListID       string    `json:"listId"`
	Version      int64     `json:"version"`
	LastModified time.Time `json:"lastModified"`
	Deleted      bool      `json:"deleted,omitempty"`
}

// Broker publishes and delivers Changes keyed by list id.
type Broker interface {
	Publish(ctx context.Context, change Change) error

	// Subscribe returns a channel of changes for listID and a function that
	// cancels the subscription and closes the channel.
	Subscribe(listID string) (<-chan Change, func())

	Close() error
}

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 8
