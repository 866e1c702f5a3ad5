// Package memstore is an in-memory roomstore.Store, used in development
// mode and in tests. It mimics the semantics the coordination core is
// designed against: unconditional last-write-wins partial writes, a
// best-effort asynchronous change stream, and a capacity re-check at
// participant insert time.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
)

// Store implements roomstore.Store in process memory.
type Store struct {
	clock clockwork.Clock

	mu           sync.RWMutex
	rooms        map[uuid.UUID]models.Room
	participants map[uuid.UUID][]models.Participant
	byCode       map[string]uuid.UUID
	subs         map[int]subscriber
	nextSubID    int
}

type subscriber struct {
	roomID uuid.UUID // uuid.Nil means all rooms
	fn     func(roomstore.ChangeEvent)
}

// New creates an empty store.
func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:        clock,
		rooms:        make(map[uuid.UUID]models.Room),
		participants: make(map[uuid.UUID][]models.Participant),
		byCode:       make(map[string]uuid.UUID),
		subs:         make(map[int]subscriber),
	}
}

// CreateRoom inserts a room, generating its id and join code when unset.
func (s *Store) CreateRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	s.mu.Lock()
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.Code == "" {
		room.Code = joinCode(room.ID)
	}
	if room.Status == "" {
		room.Status = models.RoomStatusWaiting
	}
	now := s.clock.Now()
	room.CreatedAt = now
	room.UpdatedAt = now
	s.rooms[room.ID] = room
	s.byCode[room.Code] = room.ID
	s.mu.Unlock()

	s.notify(roomstore.ChangeEvent{Table: roomstore.TableRooms, Op: roomstore.OpInsert, RoomID: room.ID})
	created := room
	return &created, nil
}

// GetRoom returns a copy of the room and its participants.
func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*roomstore.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked(id)
}

// GetRoomByCode looks a room up by its short join code.
func (s *Store) GetRoomByCode(ctx context.Context, code string) (*roomstore.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, roomstore.ErrRoomNotFound
	}
	return s.stateLocked(id)
}

// UpdateRoom applies a partial-field write. The store is deliberately dumb:
// fields are assigned last-write-wins with no guard, which is exactly the
// contract the countdown protocol is built on. Writing the same value twice
// is a no-op the second time.
func (s *Store) UpdateRoom(ctx context.Context, id uuid.UUID, patch roomstore.RoomPatch) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return roomstore.ErrRoomNotFound
	}
	if patch.Status != nil {
		room.Status = *patch.Status
	}
	if patch.HostID != nil {
		room.HostID = *patch.HostID
	}
	if patch.ClearCountdown {
		room.CountdownInitiatedAt = nil
	} else if patch.CountdownInitiatedAt != nil {
		t := *patch.CountdownInitiatedAt
		room.CountdownInitiatedAt = &t
	}
	if patch.HostPing != nil {
		t := patch.HostPing.RequestedAt
		sender := patch.HostPing.SenderID
		room.HostPingRequestedAt = &t
		room.LastPingSenderID = &sender
		room.LastPingSenderUsername = patch.HostPing.SenderUsername
	}
	room.UpdatedAt = s.clock.Now()
	s.rooms[id] = room
	s.mu.Unlock()

	s.notify(roomstore.ChangeEvent{Table: roomstore.TableRooms, Op: roomstore.OpUpdate, RoomID: id})
	return nil
}

// DeleteRoom removes the room and its participants.
func (s *Store) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return roomstore.ErrRoomNotFound
	}
	delete(s.rooms, id)
	delete(s.byCode, room.Code)
	delete(s.participants, id)
	s.mu.Unlock()

	s.notify(roomstore.ChangeEvent{Table: roomstore.TableRooms, Op: roomstore.OpDelete, RoomID: id})
	return nil
}

// ListRooms returns summaries of rooms matching the filter.
func (s *Store) ListRooms(ctx context.Context, filter roomstore.RoomFilter) ([]roomstore.RoomSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []roomstore.RoomSummary
	for id, room := range s.rooms {
		if filter.Status != nil && room.Status != *filter.Status {
			continue
		}
		out = append(out, roomstore.RoomSummary{
			Room:             copyRoom(room),
			ParticipantCount: len(s.participants[id]),
		})
	}
	return out, nil
}

// InsertParticipant seats a user, re-checking capacity at write time.
func (s *Store) InsertParticipant(ctx context.Context, roomID uuid.UUID, p models.Participant) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return roomstore.ErrRoomNotFound
	}
	seats := s.participants[roomID]
	for _, existing := range seats {
		if existing.UserID == p.UserID {
			s.mu.Unlock()
			return roomstore.ErrAlreadyJoined
		}
	}
	if len(seats) >= room.MaxPlayers {
		s.mu.Unlock()
		return roomstore.ErrRoomFull
	}
	p.RoomID = roomID
	s.participants[roomID] = append(seats, p)
	s.mu.Unlock()

	s.notify(roomstore.ChangeEvent{Table: roomstore.TableParticipants, Op: roomstore.OpInsert, RoomID: roomID})
	return nil
}

// DeleteParticipant removes a user's seat.
func (s *Store) DeleteParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	s.mu.Lock()
	seats, ok := s.participants[roomID]
	if !ok {
		s.mu.Unlock()
		return roomstore.ErrParticipantNotFound
	}
	found := false
	for i, p := range seats {
		if p.UserID == userID {
			s.participants[roomID] = append(seats[:i], seats[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return roomstore.ErrParticipantNotFound
	}

	s.notify(roomstore.ChangeEvent{Table: roomstore.TableParticipants, Op: roomstore.OpDelete, RoomID: roomID})
	return nil
}

// Subscribe registers fn for change events. Delivery is asynchronous and
// unordered, matching what a real push transport provides.
func (s *Store) Subscribe(ctx context.Context, roomID uuid.UUID, fn func(roomstore.ChangeEvent)) (func(), error) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = subscriber{roomID: roomID, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) notify(ev roomstore.ChangeEvent) {
	s.mu.RLock()
	var targets []func(roomstore.ChangeEvent)
	for _, sub := range s.subs {
		if sub.roomID == uuid.Nil || sub.roomID == ev.RoomID {
			targets = append(targets, sub.fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range targets {
		go fn(ev)
	}
}

func (s *Store) stateLocked(id uuid.UUID) (*roomstore.RoomState, error) {
	room, ok := s.rooms[id]
	if !ok {
		return nil, roomstore.ErrRoomNotFound
	}
	seats := s.participants[id]
	out := &roomstore.RoomState{
		Room:         copyRoom(room),
		Participants: make([]models.Participant, len(seats)),
	}
	copy(out.Participants, seats)
	return out, nil
}

func copyRoom(room models.Room) models.Room {
	if room.CountdownInitiatedAt != nil {
		t := *room.CountdownInitiatedAt
		room.CountdownInitiatedAt = &t
	}
	if room.HostPingRequestedAt != nil {
		t := *room.HostPingRequestedAt
		room.HostPingRequestedAt = &t
	}
	if room.LastPingSenderID != nil {
		id := *room.LastPingSenderID
		room.LastPingSenderID = &id
	}
	return room
}

// joinCode derives a short human-entry code from the room id.
func joinCode(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
}
