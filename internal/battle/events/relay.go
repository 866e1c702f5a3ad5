package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/countdown"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// Relay turns the store's anonymous change notifications into typed room
// events on the bus. The notifications carry no row data, so the relay
// refetches the room on every change and diffs it against the last state it
// saw. It is a bridge, not a source of truth: consumers that need the truth
// read the store.
type Relay struct {
	store roomstore.Store
	clock clockwork.Clock
	pub   Publisher

	eventCh   chan roomstore.ChangeEvent
	prev      map[uuid.UUID]prevState
	ready     chan struct{}
	readyOnce sync.Once
}

type prevState struct {
	room  models.Room
	count int
}

// NewRelay creates a relay over the given store and publisher.
func NewRelay(store roomstore.Store, clock clockwork.Clock, pub Publisher) *Relay {
	return &Relay{
		store:   store,
		clock:   clock,
		pub:     pub,
		eventCh: make(chan roomstore.ChangeEvent, 256),
		prev:    make(map[uuid.UUID]prevState),
		ready:   make(chan struct{}),
	}
}

// Ready unblocks once the relay's store subscription is registered. Changes
// made before that point are not observed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Start subscribes to all rooms and processes changes until the context is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	unsubscribe, err := r.store.Subscribe(ctx, uuid.Nil, func(ev roomstore.ChangeEvent) {
		select {
		case r.eventCh <- ev:
		default:
			log.Warn().Str("room_id", ev.RoomID.String()).Msg("relay queue full, dropping change event")
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()
	r.readyOnce.Do(func() { close(r.ready) })

	log.Info().Msg("room event relay started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room event relay shutting down")
			return nil
		case ev := <-r.eventCh:
			r.process(ctx, ev)
		}
	}
}

func (r *Relay) process(ctx context.Context, ev roomstore.ChangeEvent) {
	if ev.Table == roomstore.TableRooms && ev.Op == roomstore.OpDelete {
		r.emit(ctx, ev.RoomID, EventTypeRoomDeleted, nil)
		delete(r.prev, ev.RoomID)
		return
	}

	st, err := r.store.GetRoom(ctx, ev.RoomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			// Deleted between the notification and our read.
			if _, seen := r.prev[ev.RoomID]; seen {
				r.emit(ctx, ev.RoomID, EventTypeRoomDeleted, nil)
				delete(r.prev, ev.RoomID)
			}
			return
		}
		log.Warn().Err(err).Str("room_id", ev.RoomID.String()).Msg("relay refetch failed")
		return
	}

	cur := prevState{room: st.Room, count: st.ParticipantCount()}
	old, seen := r.prev[ev.RoomID]
	r.prev[ev.RoomID] = cur
	if !seen {
		// First sighting: nothing to diff against.
		return
	}

	roomID := ev.RoomID
	if cur.count > old.count {
		r.emit(ctx, roomID, EventTypeParticipantJoined, ParticipantChangedPayload{
			ParticipantCount: cur.count,
			MaxPlayers:       cur.room.MaxPlayers,
		})
	} else if cur.count < old.count {
		r.emit(ctx, roomID, EventTypeParticipantLeft, ParticipantChangedPayload{
			ParticipantCount: cur.count,
			MaxPlayers:       cur.room.MaxPlayers,
		})
	}

	if old.room.CountdownInitiatedAt == nil && cur.room.CountdownInitiatedAt != nil {
		r.emit(ctx, roomID, EventTypeCountdownStarted, CountdownStartedPayload{
			InitiatedAt: *cur.room.CountdownInitiatedAt,
			DurationSec: int(countdown.Duration(cur.room.BattleType).Seconds()),
		})
	}

	if old.room.Status != cur.room.Status {
		switch cur.room.Status {
		case models.RoomStatusInProgress:
			r.emit(ctx, roomID, EventTypeBattleStarted, BattleStartedPayload{StartedAt: cur.room.UpdatedAt})
		case models.RoomStatusCompleted:
			r.emit(ctx, roomID, EventTypeBattleCompleted, nil)
		}
	}

	if pingChanged(old.room, cur.room) {
		r.emit(ctx, roomID, EventTypeHostPingRequested, HostPingPayload{
			SenderID:       *cur.room.LastPingSenderID,
			SenderUsername: cur.room.LastPingSenderUsername,
			RequestedAt:    *cur.room.HostPingRequestedAt,
		})
	}
}

// pingChanged compares previous vs current ping timestamp and sender, the
// same comparison a host client does to avoid re-alerting on unrelated
// refreshes.
func pingChanged(old, cur models.Room) bool {
	if cur.HostPingRequestedAt == nil || cur.LastPingSenderID == nil {
		return false
	}
	if old.HostPingRequestedAt == nil {
		return true
	}
	return !cur.HostPingRequestedAt.Equal(*old.HostPingRequestedAt) ||
		(old.LastPingSenderID != nil && *cur.LastPingSenderID != *old.LastPingSenderID)
}

func (r *Relay) emit(ctx context.Context, roomID uuid.UUID, typ EventType, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to marshal event payload")
			return
		}
		data = b
	}

	event := RoomEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID.String(),
		Type:      typ,
		Timestamp: r.clock.Now(),
		Data:      data,
	}
	if err := r.pub.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("room_id", event.RoomID).
			Str("event_type", string(typ)).
			Msg("failed to publish room event")
	}
}
