// Package actions implements the participant operations on a battle room:
// join, leave, kick, and host ping. Each is a read-check-write against the
// store, guarded by room state. The checks are best-effort: the store offers
// no compare-and-swap, so two clients passing the same check simultaneously
// is possible and tolerated (the capacity invariant is re-checked once more
// at insert time inside the store).
package actions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// User identifies who is performing an action.
type User struct {
	ID       uuid.UUID
	Username string
	Team     *string
}

// Actions performs participant operations against a room store.
type Actions struct {
	store roomstore.Store
	clock clockwork.Clock
}

// New creates an Actions facade over the given store.
func New(store roomstore.Store, clock clockwork.Clock) *Actions {
	return &Actions{store: store, clock: clock}
}

// Join seats the user in the room. It rejects with ErrRoomFull when the
// observed participant count already equals MaxPlayers, and with
// ErrRoomNotWaiting once the battle has started. Joining a room the user is
// already seated in is a no-op.
func (a *Actions) Join(ctx context.Context, roomID uuid.UUID, user User) error {
	st, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if st.Room.Status != models.RoomStatusWaiting {
		return ErrRoomNotWaiting
	}
	for _, p := range st.Participants {
		if p.UserID == user.ID {
			return nil
		}
	}
	if st.ParticipantCount() >= st.Room.MaxPlayers {
		return ErrRoomFull
	}

	err = a.store.InsertParticipant(ctx, roomID, models.Participant{
		RoomID:   roomID,
		UserID:   user.ID,
		Username: user.Username,
		JoinedAt: a.clock.Now(),
		Team:     user.Team,
	})
	if errors.Is(err, roomstore.ErrRoomFull) {
		// Lost the race between our count check and the insert.
		return ErrRoomFull
	}
	if errors.Is(err, roomstore.ErrAlreadyJoined) {
		return nil
	}
	return err
}

// Leave removes the user's seat. If the departing user is the current host,
// the host role passes to the remaining participant with the earliest
// JoinedAt. An emptied room is left in place for external cleanup.
func (a *Actions) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	st, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if err := a.store.DeleteParticipant(ctx, roomID, userID); err != nil {
		return err
	}

	if st.Room.HostID != userID {
		return nil
	}

	next := earliestJoined(st.Participants, userID)
	if next == nil {
		log.Info().Str("room_id", roomID.String()).Msg("host left an empty room")
		return nil
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("new_host_id", next.UserID.String()).
		Msg("reassigning host")
	newHost := next.UserID
	return a.store.UpdateRoom(ctx, roomID, roomstore.RoomPatch{HostID: &newHost})
}

// Kick removes another participant's seat. Only the current host may kick,
// and never themselves.
func (a *Actions) Kick(ctx context.Context, roomID, callerID, targetID uuid.UUID) error {
	st, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if st.Room.HostID != callerID {
		return ErrNotHost
	}
	if targetID == callerID {
		return ErrKickSelf
	}
	if !seated(st.Participants, targetID) {
		return ErrNotParticipant
	}
	return a.store.DeleteParticipant(ctx, roomID, targetID)
}

// RequestHostPing records a "hey host, start already" nudge. The write
// overwrites the previous ping wholesale; the host's client compares the
// previous and current timestamp/sender to decide whether to alert, so
// unrelated refreshes do not re-alert. Only non-hosts may ping, and only
// while the room is WAITING.
func (a *Actions) RequestHostPing(ctx context.Context, roomID uuid.UUID, sender User) error {
	st, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if st.Room.Status != models.RoomStatusWaiting {
		return ErrRoomNotWaiting
	}
	if st.Room.HostID == sender.ID {
		return ErrPingSelf
	}
	if !seated(st.Participants, sender.ID) {
		return ErrNotParticipant
	}

	return a.store.UpdateRoom(ctx, roomID, roomstore.RoomPatch{
		HostPing: &roomstore.HostPing{
			RequestedAt:    a.clock.Now(),
			SenderID:       sender.ID,
			SenderUsername: sender.Username,
		},
	})
}

// CompleteBattle marks a running battle as finished. Completing an already
// completed room is a no-op; a room that never started cannot complete.
func (a *Actions) CompleteBattle(ctx context.Context, roomID uuid.UUID) error {
	st, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	switch st.Room.Status {
	case models.RoomStatusCompleted:
		return nil
	case models.RoomStatusInProgress:
	default:
		return ErrBattleNotRunning
	}

	completed := models.RoomStatusCompleted
	return a.store.UpdateRoom(ctx, roomID, roomstore.RoomPatch{Status: &completed})
}

func seated(participants []models.Participant, userID uuid.UUID) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// earliestJoined picks the next host: the remaining participant with the
// earliest join time, excluding the one who is leaving.
func earliestJoined(participants []models.Participant, leaving uuid.UUID) *models.Participant {
	var next *models.Participant
	for i := range participants {
		p := &participants[i]
		if p.UserID == leaving {
			continue
		}
		if next == nil || p.JoinedAt.Before(next.JoinedAt) {
			next = p
		}
	}
	return next
}
