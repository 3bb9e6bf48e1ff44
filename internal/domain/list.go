package domain

import "time"

// List is the persisted record of one shared list.
type List struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner,omitempty"`
	Items        []Item    `json:"items"`
	LastModified time.Time `json:"lastModified"`
	Version      int64     `json:"version"`
	Subscribers  []string  `json:"subscribers"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasSubscriber reports whether participantID is registered on the list.
func (l *List) HasSubscriber(participantID string) bool {
	for _, s := range l.Subscribers {
		if s == participantID {
			return true
		}
	}
	return false
}

// Touch advances LastModified and Version. LastModified strictly increases
// even when the wall clock has not moved past the stored value.
func (l *List) Touch(now time.Time) {
	if !now.After(l.LastModified) {
		now = l.LastModified.Add(time.Millisecond)
	}
	l.LastModified = now
	l.Version++
}

type CreateListRequest struct {
	ID    string `json:"id" validate:"omitempty,max=128,excludesall=/?#"`
	Items []Item `json:"items" validate:"omitempty,dive"`
}

// ListState is the read endpoint payload and the "state" stream event.
type ListState struct {
	ID           string    `json:"id"`
	Items        []Item    `json:"items"`
	LastModified time.Time `json:"lastModified"`
	Version      int64     `json:"version"`
}

// SyncResponse is returned by the write endpoint.
type SyncResponse struct {
	Items        []Item    `json:"items"`
	LastModified time.Time `json:"lastModified"`
	Version      int64     `json:"version"`
	ServerTime   time.Time `json:"serverTime"`
}

type SubscribersResponse struct {
	ListID           string   `json:"listId"`
	Subscribers      []string `json:"subscribers"`
	LiveConnections  int      `json:"liveConnections"`
	LiveParticipants []string `json:"liveParticipants"`
}

func (l *List) State() ListState {
	return ListState{
		ID:           l.ID,
		Items:        l.Items,
		LastModified: l.LastModified,
		Version:      l.Version,
	}
}
