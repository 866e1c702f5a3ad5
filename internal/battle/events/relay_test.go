package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/events"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rmehta12/prepbattle/internal/roomstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	ch chan events.RoomEvent
}

func (p *capturePublisher) Publish(ctx context.Context, event events.RoomEvent) error {
	p.ch <- event
	return nil
}

func awaitEvent(t *testing.T, ch <-chan events.RoomEvent, typ events.EventType) events.RoomEvent {
	t.Helper()
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
			t.Logf("skipping %s while waiting for %s", ev.Type, typ)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", typ)
			return events.RoomEvent{}
		}
	}
}

func assertQuiet(t *testing.T, ch <-chan events.RoomEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s for room %s", ev.Type, ev.RoomID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRelayEmitsLifecycleEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memstore.New(clock)
	pub := &capturePublisher{ch: make(chan events.RoomEvent, 64)}
	relay := events.NewRelay(store, clock, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Start(ctx)
	<-relay.Ready()

	room, err := store.CreateRoom(ctx, models.Room{
		BattleType: models.BattleTypeOneVOne,
		MaxPlayers: 2,
		Status:     models.RoomStatusWaiting,
		HostID:     uuid.New(),
	})
	require.NoError(t, err)

	// Creation is the first sighting; there is no previous state to diff
	// against so nothing is published yet.
	assertQuiet(t, pub.ch)

	host := uuid.New()
	require.NoError(t, store.InsertParticipant(ctx, room.ID, models.Participant{
		UserID: host, Username: "host", JoinedAt: clock.Now(),
	}))
	ev := awaitEvent(t, pub.ch, events.EventTypeParticipantJoined)
	assert.Equal(t, room.ID.String(), ev.RoomID)
	var joined events.ParticipantChangedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &joined))
	assert.Equal(t, 1, joined.ParticipantCount)
	assert.Equal(t, 2, joined.MaxPlayers)

	initiated := clock.Now()
	require.NoError(t, store.UpdateRoom(ctx, room.ID, roomstore.RoomPatch{CountdownInitiatedAt: &initiated}))
	ev = awaitEvent(t, pub.ch, events.EventTypeCountdownStarted)
	var started events.CountdownStartedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &started))
	assert.Equal(t, 5, started.DurationSec)
	assert.True(t, started.InitiatedAt.Equal(initiated))

	status := models.RoomStatusInProgress
	require.NoError(t, store.UpdateRoom(ctx, room.ID, roomstore.RoomPatch{Status: &status, ClearCountdown: true}))
	awaitEvent(t, pub.ch, events.EventTypeBattleStarted)

	done := models.RoomStatusCompleted
	require.NoError(t, store.UpdateRoom(ctx, room.ID, roomstore.RoomPatch{Status: &done}))
	awaitEvent(t, pub.ch, events.EventTypeBattleCompleted)

	require.NoError(t, store.DeleteRoom(ctx, room.ID))
	awaitEvent(t, pub.ch, events.EventTypeRoomDeleted)
}

func TestRelayEmitsParticipantLeft(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memstore.New(clock)
	pub := &capturePublisher{ch: make(chan events.RoomEvent, 64)}
	relay := events.NewRelay(store, clock, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Start(ctx)
	<-relay.Ready()

	room, err := store.CreateRoom(ctx, models.Room{
		BattleType: models.BattleTypeTwoVTwo,
		MaxPlayers: 4,
		Status:     models.RoomStatusWaiting,
		HostID:     uuid.New(),
	})
	require.NoError(t, err)
	assertQuiet(t, pub.ch)

	userID := uuid.New()
	require.NoError(t, store.InsertParticipant(ctx, room.ID, models.Participant{UserID: userID, Username: "p"}))
	awaitEvent(t, pub.ch, events.EventTypeParticipantJoined)

	require.NoError(t, store.DeleteParticipant(ctx, room.ID, userID))
	ev := awaitEvent(t, pub.ch, events.EventTypeParticipantLeft)
	var left events.ParticipantChangedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &left))
	assert.Equal(t, 0, left.ParticipantCount)
}

func TestRelayEmitsHostPingOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memstore.New(clock)
	pub := &capturePublisher{ch: make(chan events.RoomEvent, 64)}
	relay := events.NewRelay(store, clock, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Start(ctx)
	<-relay.Ready()

	room, err := store.CreateRoom(ctx, models.Room{
		BattleType: models.BattleTypeTwoVTwo,
		MaxPlayers: 4,
		Status:     models.RoomStatusWaiting,
		HostID:     uuid.New(),
	})
	require.NoError(t, err)
	assertQuiet(t, pub.ch)

	sender := uuid.New()
	require.NoError(t, store.InsertParticipant(ctx, room.ID, models.Participant{UserID: sender, Username: "p"}))
	awaitEvent(t, pub.ch, events.EventTypeParticipantJoined)

	require.NoError(t, store.UpdateRoom(ctx, room.ID, roomstore.RoomPatch{
		HostPing: &roomstore.HostPing{
			RequestedAt:    clock.Now(),
			SenderID:       sender,
			SenderUsername: "p",
		},
	}))
	ev := awaitEvent(t, pub.ch, events.EventTypeHostPingRequested)
	var ping events.HostPingPayload
	require.NoError(t, json.Unmarshal(ev.Data, &ping))
	assert.Equal(t, sender, ping.SenderID)
	assert.Equal(t, "p", ping.SenderUsername)

	// A write that does not touch the ping fields must not re-emit it.
	status := models.RoomStatusInProgress
	require.NoError(t, store.UpdateRoom(ctx, room.ID, roomstore.RoomPatch{Status: &status}))
	awaitEvent(t, pub.ch, events.EventTypeBattleStarted)
	assertQuiet(t, pub.ch)
}
