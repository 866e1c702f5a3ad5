package roomstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rmehta12/prepbattle/internal/models"
)

// RoomState is a point-in-time read of a room together with its participant
// list. It is the unit the observer replaces wholesale on every refetch; no
// incremental patching happens above the store.
type RoomState struct {
	Room         models.Room
	Participants []models.Participant
}

// ParticipantCount returns the number of seated participants.
func (s *RoomState) ParticipantCount() int {
	return len(s.Participants)
}

// HostPing carries the fields written by a host-ping request. All three are
// overwritten together on every ping.
type HostPing struct {
	RequestedAt    time.Time
	SenderID       uuid.UUID
	SenderUsername string
}

// RoomPatch is a partial-field update for a room. Nil fields are left
// untouched so concurrent unrelated writers never clobber each other.
// ClearCountdown distinguishes "set CountdownInitiatedAt to null" from
// "leave it alone".
type RoomPatch struct {
	Status               *models.RoomStatus
	HostID               *uuid.UUID
	CountdownInitiatedAt *time.Time
	ClearCountdown       bool
	HostPing             *HostPing
}

// IsZero reports whether the patch would change nothing.
func (p RoomPatch) IsZero() bool {
	return p.Status == nil && p.HostID == nil && p.CountdownInitiatedAt == nil &&
		!p.ClearCountdown && p.HostPing == nil
}

// RoomFilter narrows ListRooms results.
type RoomFilter struct {
	Status *models.RoomStatus
}

// RoomSummary is a lobby-level view of a room: the record plus its current
// participant count, enough to apply the room-full rule without a point read.
type RoomSummary struct {
	Room             models.Room
	ParticipantCount int
}

// Store is the durable shared record for battle rooms. Implementations are
// remote and racy: UpdateRoom is an unconditional last-write-wins partial
// write (no compare-and-swap), and the change stream is at-least-once and
// best-effort. Callers must tolerate duplicate and out-of-order delivery.
type Store interface {
	CreateRoom(ctx context.Context, room models.Room) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*RoomState, error)
	GetRoomByCode(ctx context.Context, code string) (*RoomState, error)
	UpdateRoom(ctx context.Context, id uuid.UUID, patch RoomPatch) error
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	ListRooms(ctx context.Context, filter RoomFilter) ([]RoomSummary, error)

	// InsertParticipant re-checks the room's capacity at write time and
	// returns ErrRoomFull when the seat count already equals MaxPlayers.
	// The check and the insert are not atomic; see the package docs.
	InsertParticipant(ctx context.Context, roomID uuid.UUID, p models.Participant) error
	DeleteParticipant(ctx context.Context, roomID, userID uuid.UUID) error

	// Subscribe registers fn for change events on the given room, or on all
	// rooms when roomID is uuid.Nil. Delivery is at-least-once and may be
	// delayed, duplicated, or dropped. The returned cancel func must be
	// called to release the subscription.
	Subscribe(ctx context.Context, roomID uuid.UUID, fn func(ChangeEvent)) (func(), error)
}

// RoomWriter is the narrow write surface the coordinator needs.
type RoomWriter interface {
	UpdateRoom(ctx context.Context, id uuid.UUID, patch RoomPatch) error
}

// RoomReader is the narrow read surface the observer needs.
type RoomReader interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*RoomState, error)
	Subscribe(ctx context.Context, roomID uuid.UUID, fn func(ChangeEvent)) (func(), error)
}
