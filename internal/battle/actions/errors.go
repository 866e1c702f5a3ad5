package actions

import "errors"

// User-facing rejections. All are checked synchronously against the latest
// room read before any write is attempted, and none are retried.
var (
	// ErrRoomFull rejects a join when the room is observed at capacity.
	// Losing this race means picking another room; there is no retry.
	ErrRoomFull = errors.New("room is full")

	// ErrRoomNotWaiting rejects joins and pings once the room has left the
	// WAITING state.
	ErrRoomNotWaiting = errors.New("room is no longer waiting for players")

	// ErrNotHost rejects a kick from anyone but the current host.
	ErrNotHost = errors.New("only the host can do that")

	// ErrKickSelf rejects a host trying to kick themselves.
	ErrKickSelf = errors.New("host cannot kick themselves")

	// ErrPingSelf rejects a host pinging themselves.
	ErrPingSelf = errors.New("host cannot ping themselves")

	// ErrNotParticipant rejects an action on a user who holds no seat in
	// the room.
	ErrNotParticipant = errors.New("user is not in the room")

	// ErrBattleNotRunning rejects completing a room whose battle has not
	// started.
	ErrBattleNotRunning = errors.New("battle is not in progress")
)
