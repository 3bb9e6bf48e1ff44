package stream

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventConnected EventType = "connected"
	EventState     EventType = "state"
	EventPing      EventType = "ping"
)

// Message is one event pushed to a streaming client. Over SSE the type
// becomes the event name and the payload the data line; over WebSocket the
// whole envelope is sent as a JSON text frame.
type Message struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	ListID        string `json:"listId"`
	ParticipantID string `json:"participantId"`
	ConnectionID  string `json:"connectionId,omitempty"`
}

func NewMessage(eventType EventType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
