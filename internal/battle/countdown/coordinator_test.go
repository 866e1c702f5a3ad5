package countdown_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/countdown"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter captures every patch the coordinator issues. Writes are
// asynchronous, so tests receive them from a channel instead of polling.
type recordingWriter struct {
	mu      sync.Mutex
	patches []roomstore.RoomPatch
	ch      chan roomstore.RoomPatch
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{ch: make(chan roomstore.RoomPatch, 16)}
}

func (w *recordingWriter) UpdateRoom(ctx context.Context, id uuid.UUID, patch roomstore.RoomPatch) error {
	w.mu.Lock()
	w.patches = append(w.patches, patch)
	w.mu.Unlock()
	w.ch <- patch
	return nil
}

func (w *recordingWriter) await(t *testing.T) roomstore.RoomPatch {
	t.Helper()
	select {
	case p := <-w.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a store write")
		return roomstore.RoomPatch{}
	}
}

func (w *recordingWriter) assertNoWrite(t *testing.T) {
	t.Helper()
	select {
	case p := <-w.ch:
		t.Fatalf("unexpected store write: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitingRoom(bt models.BattleType, maxPlayers int) models.Room {
	return models.Room{
		ID:         uuid.New(),
		Code:       "ABC123",
		BattleType: bt,
		MaxPlayers: maxPlayers,
		Status:     models.RoomStatusWaiting,
		HostID:     uuid.New(),
	}
}

func snapshot(room models.Room, count int) roomstore.RoomState {
	participants := make([]models.Participant, count)
	for i := range participants {
		participants[i] = models.Participant{
			RoomID:   room.ID,
			UserID:   uuid.New(),
			Username: "player",
		}
	}
	return roomstore.RoomState{Room: room, Participants: participants}
}

func TestCoordinatorInitiatesWhenRoomFills(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{})

	coord.Observe(snapshot(room, 1))
	assert.Equal(t, countdown.StateIdle, coord.State())
	writer.assertNoWrite(t)

	coord.Observe(snapshot(room, 2))
	assert.Equal(t, countdown.StatePendingInitiate, coord.State())

	patch := writer.await(t)
	require.NotNil(t, patch.CountdownInitiatedAt)
	assert.Equal(t, clock.Now(), *patch.CountdownInitiatedAt)
	assert.Nil(t, patch.Status)
	assert.False(t, patch.ClearCountdown)
}

func TestCoordinatorAdoptsStoredTimestamp(t *testing.T) {
	// Another client won the initiation race two seconds ago. The coordinator
	// must count from the stored timestamp, not start its own five seconds.
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	initiated := clock.Now().Add(-2 * time.Second)
	room.CountdownInitiatedAt = &initiated

	var ticks []int
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{
		OnTick: func(_ uuid.UUID, remaining int) { ticks = append(ticks, remaining) },
	})

	coord.Observe(snapshot(room, 2))
	assert.Equal(t, countdown.StateCounting, coord.State())
	assert.Equal(t, 3, coord.RemainingSeconds())
	assert.Equal(t, []int{3}, ticks)
	writer.assertNoWrite(t)
}

func TestCoordinatorTriggersWhenCountdownElapsed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeTwoVTwo, 4)
	initiated := clock.Now()
	room.CountdownInitiatedAt = &initiated
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{})

	coord.Observe(snapshot(room, 4))
	assert.Equal(t, countdown.StateCounting, coord.State())
	assert.Equal(t, 10, coord.RemainingSeconds())

	// A later snapshot arrives after the ten seconds are up. The transition
	// write sets IN_PROGRESS and clears the timestamp in one patch.
	clock.Advance(11 * time.Second)
	coord.Observe(snapshot(room, 4))
	assert.Equal(t, countdown.StateTriggering, coord.State())

	patch := writer.await(t)
	require.NotNil(t, patch.Status)
	assert.Equal(t, models.RoomStatusInProgress, *patch.Status)
	assert.True(t, patch.ClearCountdown)
}

func TestCoordinatorTriggersFromLocalTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	initiated := clock.Now()
	room.CountdownInitiatedAt = &initiated

	tickCh := make(chan int, 16)
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{
		OnTick: func(_ uuid.UUID, remaining int) { tickCh <- remaining },
	})

	coord.Observe(snapshot(room, 2))
	require.Equal(t, 5, <-tickCh)

	// Each second the display value is recomputed from the stored timestamp.
	for want := 4; want >= 1; want-- {
		clock.Advance(time.Second)
		select {
		case got := <-tickCh:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("no tick for remaining=%d", want)
		}
	}

	// The fifth second elapses the countdown and the tick itself triggers.
	clock.Advance(time.Second)
	patch := writer.await(t)
	require.NotNil(t, patch.Status)
	assert.Equal(t, models.RoomStatusInProgress, *patch.Status)
	assert.True(t, patch.ClearCountdown)
	assert.Equal(t, countdown.StateTriggering, coord.State())
	assert.Equal(t, 0, coord.RemainingSeconds())
}

func TestCoordinatorFiresBattleStartedExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	started := 0
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{
		OnBattleStarted: func(uuid.UUID) { started++ },
	})

	room.Status = models.RoomStatusInProgress
	coord.Observe(snapshot(room, 2))
	coord.Observe(snapshot(room, 2))
	coord.Observe(snapshot(room, 2))

	assert.Equal(t, 1, started)
	assert.Equal(t, countdown.StateTerminal, coord.State())
	writer.assertNoWrite(t)
}

func TestCoordinatorFiresRoomClosedExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeFreeForAll, 6)
	closed := 0
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{
		OnRoomClosed: func(uuid.UUID) { closed++ },
	})

	room.Status = models.RoomStatusCompleted
	coord.Observe(snapshot(room, 0))
	coord.Observe(snapshot(room, 0))

	assert.Equal(t, 1, closed)
	assert.Equal(t, countdown.StateTerminal, coord.State())
}

func TestCoordinatorCancelsWhenRoomEmptiesOut(t *testing.T) {
	// A snapshot showing the countdown cleared and the room no longer full
	// drops the coordinator back to idle. Someone left before the trigger.
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	initiated := clock.Now()
	room.CountdownInitiatedAt = &initiated
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{})

	coord.Observe(snapshot(room, 2))
	require.Equal(t, countdown.StateCounting, coord.State())

	room.CountdownInitiatedAt = nil
	coord.Observe(snapshot(room, 1))
	assert.Equal(t, countdown.StateIdle, coord.State())
	assert.Equal(t, 0, coord.RemainingSeconds())
	writer.assertNoWrite(t)
}

func TestCoordinatorStopReleasesTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	initiated := clock.Now()
	room.CountdownInitiatedAt = &initiated

	tickCh := make(chan int, 16)
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{
		OnTick: func(_ uuid.UUID, remaining int) { tickCh <- remaining },
	})

	coord.Observe(snapshot(room, 2))
	require.Equal(t, 5, <-tickCh)

	coord.Stop()
	coord.Stop() // idempotent

	// Time marching past the deadline after Stop must not trigger anything.
	clock.Advance(10 * time.Second)
	writer.assertNoWrite(t)
	select {
	case got := <-tickCh:
		t.Fatalf("tick after Stop: %d", got)
	case <-time.After(50 * time.Millisecond):
	}

	// Snapshots after Stop are ignored too.
	room.Status = models.RoomStatusInProgress
	coord.Observe(snapshot(room, 2))
	writer.assertNoWrite(t)
}

func TestCoordinatorIgnoresForeignSnapshots(t *testing.T) {
	clock := clockwork.NewFakeClock()
	writer := newRecordingWriter()
	room := waitingRoom(models.BattleTypeOneVOne, 2)
	coord := countdown.New(writer, clock, room.ID, countdown.Callbacks{})

	other := waitingRoom(models.BattleTypeOneVOne, 2)
	coord.Observe(snapshot(other, 2))
	assert.Equal(t, countdown.StateIdle, coord.State())
	writer.assertNoWrite(t)
}
