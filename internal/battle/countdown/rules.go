package countdown

import (
	"time"

	"github.com/rmehta12/prepbattle/internal/models"
)

const (
	// DurationOneVOne is the start countdown for 1v1 rooms.
	DurationOneVOne = 5 * time.Second
	// DurationDefault is the start countdown for every other battle type.
	DurationDefault = 10 * time.Second
)

// Duration returns the start countdown length for a battle type.
func Duration(bt models.BattleType) time.Duration {
	if bt == models.BattleTypeOneVOne {
		return DurationOneVOne
	}
	return DurationDefault
}

// ShouldInitiate reports whether a countdown should be recorded for the room.
// This is the single room-full rule: both the in-room coordinator and the
// lobby scanner call it, so the two paths can never diverge.
func ShouldInitiate(room models.Room, participantCount int) bool {
	return room.Status == models.RoomStatusWaiting &&
		room.CountdownInitiatedAt == nil &&
		participantCount == room.MaxPlayers
}

// Remaining computes the authoritative time left on a room's countdown at
// the given instant. It is zero when no countdown is active or the countdown
// has elapsed. Local ticking is cosmetic; this derivation is what resyncs it.
func Remaining(room models.Room, now time.Time) time.Duration {
	if room.CountdownInitiatedAt == nil {
		return 0
	}
	remaining := Duration(room.BattleType) - now.Sub(*room.CountdownInitiatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSeconds is Remaining rounded up to whole seconds for display.
func RemainingSeconds(room models.Room, now time.Time) int {
	remaining := Remaining(room, now)
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}
