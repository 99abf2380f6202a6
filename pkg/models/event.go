package models

import "encoding/json"

// EventType identifies a realtime dispatch event.
type EventType string

const (
	EventMessageCreated       EventType = "MessageCreated"
	EventMessageStatusChanged EventType = "MessageStatusChanged"
	EventFactCheckAdded       EventType = "FactCheckAdded"
	// EventGapDetected signals that buffered events were dropped and the
	// consumer should resync instead of trusting its local view.
	EventGapDetected EventType = "GapDetected"
)

// Event is the wire shape carried over the dispatch channel.
type Event struct {
	Type    EventType       `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StatusChange is the payload of a MessageStatusChanged event.
type StatusChange struct {
	ID         string            `json:"id"`
	Status     MessageStatus     `json:"status"`
	Moderation *ModerationResult `json:"moderation,omitempty"`
}

// Gap is the payload of a GapDetected event.
type Gap struct {
	Dropped int `json:"dropped"`
}

func mustEvent(t EventType, room string, payload any) Event {
	b, err := json.Marshal(payload)
	if err != nil {
		// payloads are our own structs; a marshal failure is a bug
		panic(err)
	}
	return Event{Type: t, Room: room, Payload: b}
}

// NewMessageCreated builds a MessageCreated event for m.
func NewMessageCreated(m Message) Event {
	return mustEvent(EventMessageCreated, m.Room, m)
}

// NewMessageStatusChanged builds a MessageStatusChanged event.
func NewMessageStatusChanged(room string, sc StatusChange) Event {
	return mustEvent(EventMessageStatusChanged, room, sc)
}

// NewFactCheckAdded builds a FactCheckAdded event for fc.
func NewFactCheckAdded(fc FactCheck) Event {
	return mustEvent(EventFactCheckAdded, fc.Room, fc)
}

// NewGapDetected builds a GapDetected event reporting dropped events.
func NewGapDetected(room string, dropped int) Event {
	return mustEvent(EventGapDetected, room, Gap{Dropped: dropped})
}
