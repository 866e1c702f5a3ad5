package actions_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/actions"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rmehta12/prepbattle/internal/roomstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memstore.Store
	clock *clockwork.FakeClock
	acts  *actions.Actions
	room  models.Room
	host  actions.User
}

// newFixture creates a 2v2 room with the host already seated.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := memstore.New(clock)
	acts := actions.New(store, clock)

	host := actions.User{ID: uuid.New(), Username: "host"}
	room, err := store.CreateRoom(context.Background(), models.Room{
		BattleType: models.BattleTypeTwoVTwo,
		MaxPlayers: 4,
		Status:     models.RoomStatusWaiting,
		HostID:     host.ID,
	})
	require.NoError(t, err)
	require.NoError(t, acts.Join(context.Background(), room.ID, host))

	return &fixture{store: store, clock: clock, acts: acts, room: *room, host: host}
}

func (f *fixture) join(t *testing.T, username string) actions.User {
	t.Helper()
	// Joins get distinct timestamps so host succession is deterministic.
	f.clock.Advance(time.Second)
	u := actions.User{ID: uuid.New(), Username: username}
	require.NoError(t, f.acts.Join(context.Background(), f.room.ID, u))
	return u
}

func (f *fixture) state(t *testing.T) *roomstore.RoomState {
	t.Helper()
	st, err := f.store.GetRoom(context.Background(), f.room.ID)
	require.NoError(t, err)
	return st
}

func TestJoinRejectsWhenFull(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p2")
	f.join(t, "p3")
	f.join(t, "p4")

	err := f.acts.Join(context.Background(), f.room.ID, actions.User{ID: uuid.New(), Username: "late"})
	assert.ErrorIs(t, err, actions.ErrRoomFull)
	assert.Equal(t, 4, f.state(t).ParticipantCount())
}

func TestJoinIsNoOpWhenAlreadySeated(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.acts.Join(context.Background(), f.room.ID, f.host))
	assert.Equal(t, 1, f.state(t).ParticipantCount())
}

func TestJoinRejectsOnceBattleStarted(t *testing.T) {
	f := newFixture(t)
	status := models.RoomStatusInProgress
	require.NoError(t, f.store.UpdateRoom(context.Background(), f.room.ID, roomstore.RoomPatch{Status: &status}))

	err := f.acts.Join(context.Background(), f.room.ID, actions.User{ID: uuid.New(), Username: "late"})
	assert.ErrorIs(t, err, actions.ErrRoomNotWaiting)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t)

	err := f.acts.Join(context.Background(), uuid.New(), actions.User{ID: uuid.New(), Username: "lost"})
	assert.ErrorIs(t, err, roomstore.ErrRoomNotFound)
}

func TestLeaveReassignsHostToEarliestJoiner(t *testing.T) {
	f := newFixture(t)
	second := f.join(t, "second")
	f.join(t, "third")

	require.NoError(t, f.acts.Leave(context.Background(), f.room.ID, f.host.ID))

	st := f.state(t)
	assert.Equal(t, second.ID, st.Room.HostID, "host passes to the earliest remaining joiner")
	assert.Equal(t, 2, st.ParticipantCount())
}

func TestLeaveByNonHostKeepsHost(t *testing.T) {
	f := newFixture(t)
	second := f.join(t, "second")

	require.NoError(t, f.acts.Leave(context.Background(), f.room.ID, second.ID))

	st := f.state(t)
	assert.Equal(t, f.host.ID, st.Room.HostID)
	assert.Equal(t, 1, st.ParticipantCount())
}

func TestLeaveLastParticipantKeepsRoom(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.acts.Leave(context.Background(), f.room.ID, f.host.ID))

	st := f.state(t)
	assert.Equal(t, 0, st.ParticipantCount())
	assert.Equal(t, f.host.ID, st.Room.HostID, "an emptied room keeps its last host on record")
}

func TestKick(t *testing.T) {
	f := newFixture(t)
	second := f.join(t, "second")

	t.Run("non-host cannot kick", func(t *testing.T) {
		err := f.acts.Kick(context.Background(), f.room.ID, second.ID, f.host.ID)
		assert.ErrorIs(t, err, actions.ErrNotHost)
	})

	t.Run("host cannot kick themselves", func(t *testing.T) {
		err := f.acts.Kick(context.Background(), f.room.ID, f.host.ID, f.host.ID)
		assert.ErrorIs(t, err, actions.ErrKickSelf)
	})

	t.Run("target must be seated", func(t *testing.T) {
		err := f.acts.Kick(context.Background(), f.room.ID, f.host.ID, uuid.New())
		assert.ErrorIs(t, err, actions.ErrNotParticipant)
	})

	t.Run("host kicks a participant", func(t *testing.T) {
		require.NoError(t, f.acts.Kick(context.Background(), f.room.ID, f.host.ID, second.ID))
		assert.Equal(t, 1, f.state(t).ParticipantCount())
	})
}

func TestRequestHostPing(t *testing.T) {
	f := newFixture(t)
	second := f.join(t, "second")

	t.Run("host cannot ping themselves", func(t *testing.T) {
		err := f.acts.RequestHostPing(context.Background(), f.room.ID, f.host)
		assert.ErrorIs(t, err, actions.ErrPingSelf)
	})

	t.Run("sender must be seated", func(t *testing.T) {
		err := f.acts.RequestHostPing(context.Background(), f.room.ID, actions.User{ID: uuid.New(), Username: "spectator"})
		assert.ErrorIs(t, err, actions.ErrNotParticipant)
	})

	t.Run("participant pings the host", func(t *testing.T) {
		require.NoError(t, f.acts.RequestHostPing(context.Background(), f.room.ID, second))

		st := f.state(t)
		require.NotNil(t, st.Room.HostPingRequestedAt)
		assert.Equal(t, f.clock.Now(), *st.Room.HostPingRequestedAt)
		require.NotNil(t, st.Room.LastPingSenderID)
		assert.Equal(t, second.ID, *st.Room.LastPingSenderID)
		assert.Equal(t, "second", st.Room.LastPingSenderUsername)
	})

	t.Run("a later ping overwrites the previous one", func(t *testing.T) {
		third := f.join(t, "third")
		f.clock.Advance(time.Minute)
		require.NoError(t, f.acts.RequestHostPing(context.Background(), f.room.ID, third))

		st := f.state(t)
		assert.Equal(t, f.clock.Now(), *st.Room.HostPingRequestedAt)
		assert.Equal(t, third.ID, *st.Room.LastPingSenderID)
		assert.Equal(t, "third", st.Room.LastPingSenderUsername)
	})

	t.Run("rejected once the battle started", func(t *testing.T) {
		status := models.RoomStatusInProgress
		require.NoError(t, f.store.UpdateRoom(context.Background(), f.room.ID, roomstore.RoomPatch{Status: &status}))

		err := f.acts.RequestHostPing(context.Background(), f.room.ID, second)
		assert.ErrorIs(t, err, actions.ErrRoomNotWaiting)
	})
}

func TestCompleteBattle(t *testing.T) {
	f := newFixture(t)

	t.Run("rejected while the room is waiting", func(t *testing.T) {
		err := f.acts.CompleteBattle(context.Background(), f.room.ID)
		assert.ErrorIs(t, err, actions.ErrBattleNotRunning)
		assert.Equal(t, models.RoomStatusWaiting, f.state(t).Room.Status)
	})

	t.Run("finishes a running battle", func(t *testing.T) {
		status := models.RoomStatusInProgress
		require.NoError(t, f.store.UpdateRoom(context.Background(), f.room.ID, roomstore.RoomPatch{Status: &status}))

		require.NoError(t, f.acts.CompleteBattle(context.Background(), f.room.ID))
		assert.Equal(t, models.RoomStatusCompleted, f.state(t).Room.Status)
	})

	t.Run("completing again is a no-op", func(t *testing.T) {
		require.NoError(t, f.acts.CompleteBattle(context.Background(), f.room.ID))
		assert.Equal(t, models.RoomStatusCompleted, f.state(t).Room.Status)
	})

	t.Run("unknown room", func(t *testing.T) {
		err := f.acts.CompleteBattle(context.Background(), uuid.New())
		assert.ErrorIs(t, err, roomstore.ErrRoomNotFound)
	})
}
