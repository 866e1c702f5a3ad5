package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant represents a user seated in a battle room. Created on join,
// destroyed on leave/kick. The count of participants in a room never exceeds
// the room's MaxPlayers (best-effort, re-checked at insert time).
type Participant struct {
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
	Team     *string   `json:"team,omitempty"`
}
