package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a battle room domain event.
type EventType string

const (
	EventTypeParticipantJoined EventType = "ParticipantJoined"
	EventTypeParticipantLeft   EventType = "ParticipantLeft"
	EventTypeCountdownStarted  EventType = "CountdownStarted"
	EventTypeBattleStarted     EventType = "BattleStarted"
	EventTypeBattleCompleted   EventType = "BattleCompleted"
	EventTypeHostPingRequested EventType = "HostPingRequested"
	EventTypeRoomDeleted       EventType = "RoomDeleted"
)

// RoomEvent is the envelope published on the event bus and forwarded to
// websocket clients.
type RoomEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ParticipantChangedPayload accompanies join/leave events.
type ParticipantChangedPayload struct {
	ParticipantCount int `json:"participant_count"`
	MaxPlayers       int `json:"max_players"`
}

// CountdownStartedPayload accompanies CountdownStarted.
type CountdownStartedPayload struct {
	InitiatedAt time.Time `json:"initiated_at"`
	DurationSec int       `json:"duration_sec"`
}

// BattleStartedPayload accompanies BattleStarted.
type BattleStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
}

// HostPingPayload accompanies HostPingRequested.
type HostPingPayload struct {
	SenderID       uuid.UUID `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	RequestedAt    time.Time `json:"requested_at"`
}
