package roomstore

import "errors"

var (
	// ErrRoomNotFound is returned by point reads for unknown room ids or codes.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned by InsertParticipant when the seat count
	// already equals the room's MaxPlayers at write time.
	ErrRoomFull = errors.New("room is full")

	// ErrParticipantNotFound is returned when deleting a participant that
	// is not seated in the room.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrAlreadyJoined is returned by InsertParticipant when the user
	// already holds a seat in the room.
	ErrAlreadyJoined = errors.New("user already joined room")
)
