package models

import (
	"time"

	"github.com/google/uuid"
)

// BattleType defines the format of a battle room.
type BattleType string

const (
	BattleTypeOneVOne    BattleType = "ONE_V_ONE"
	BattleTypeTwoVTwo    BattleType = "TWO_V_TWO"
	BattleTypeFreeForAll BattleType = "FREE_FOR_ALL"
)

// RoomStatus defines the lifecycle status of a battle room.
// Transitions are monotonic: WAITING -> IN_PROGRESS -> COMPLETED.
type RoomStatus string

const (
	RoomStatusWaiting    RoomStatus = "WAITING"
	RoomStatusInProgress RoomStatus = "IN_PROGRESS"
	RoomStatusCompleted  RoomStatus = "COMPLETED"
)

// Rank returns the position of a status in the forward-only lifecycle.
// Unknown statuses rank below WAITING so they never mask a real state.
func (s RoomStatus) Rank() int {
	switch s {
	case RoomStatusWaiting:
		return 1
	case RoomStatusInProgress:
		return 2
	case RoomStatusCompleted:
		return 3
	default:
		return 0
	}
}

// QuizSettings holds the quiz configuration of a room, immutable after creation.
type QuizSettings struct {
	TimePerQuestionSec int    `json:"time_per_question_sec"`
	TotalQuestions     int    `json:"total_questions"`
	Subject            string `json:"subject"`
}

// Room represents a battle room. The record is shared and mutable: any
// participant's client may propose field updates, so writers must only
// touch the fields they mean to change.
type Room struct {
	ID         uuid.UUID    `json:"id"`
	Code       string       `json:"code"`
	BattleType BattleType   `json:"battle_type"`
	MaxPlayers int          `json:"max_players"`
	Status     RoomStatus   `json:"status"`
	HostID     uuid.UUID    `json:"host_id"`
	Settings   QuizSettings `json:"settings"`

	// CountdownInitiatedAt is non-nil iff a start countdown is logically
	// active. It is cleared atomically with the WAITING -> IN_PROGRESS
	// transition.
	CountdownInitiatedAt *time.Time `json:"countdown_initiated_at,omitempty"`

	// Host ping fields are ephemeral, overwritten on each ping, and only
	// meaningful while the room is WAITING.
	HostPingRequestedAt    *time.Time `json:"host_ping_requested_at,omitempty"`
	LastPingSenderID       *uuid.UUID `json:"last_ping_sender_id,omitempty"`
	LastPingSenderUsername string     `json:"last_ping_sender_username,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
