package roomstore

import "github.com/google/uuid"

// Table identifies which record a change event is about.
type Table string

const (
	TableRooms        Table = "rooms"
	TableParticipants Table = "participants"
)

// Op identifies what happened to the record.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeEvent is a push-style change notification. It names the affected
// room but deliberately carries no row data: consumers refetch the full
// room state instead of patching, so room and participant state never drift.
type ChangeEvent struct {
	Table  Table     `json:"table"`
	Op     Op        `json:"op"`
	RoomID uuid.UUID `json:"room_id"`
}
