// Package lobby lists open rooms and runs the room-full check over all of
// them. The check duplicates what every in-room coordinator already does on
// purpose: a room can fill up while no participant's room view is mounted
// and polling, and the lobby's broader sweep covers that gap. Both paths
// call the same countdown.ShouldInitiate rule, so they can never disagree
// on when (or for how long) a countdown starts.
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/countdown"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// DefaultScanInterval is how often the scanner sweeps the waiting rooms.
const DefaultScanInterval = 5 * time.Second

// Scanner periodically lists WAITING rooms and initiates countdowns for any
// that are full. Several scanners across processes may race; initiation is
// an idempotent field-set, so duplicates are harmless.
type Scanner struct {
	store    roomstore.Store
	clock    clockwork.Clock
	interval time.Duration

	mu    sync.Mutex
	rooms []roomstore.RoomSummary
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithScanInterval overrides the sweep interval.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scanner) { s.interval = d }
}

// New creates a lobby scanner.
func New(store roomstore.Store, clock clockwork.Clock, opts ...Option) *Scanner {
	s := &Scanner{
		store:    store,
		clock:    clock,
		interval: DefaultScanInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until the context is cancelled. The first sweep happens
// immediately.
func (s *Scanner) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: refresh the waiting-room listing and initiate a
// countdown for every full room that has none recorded. List failures are
// transient; they are logged and the previous listing is kept.
func (s *Scanner) Sweep(ctx context.Context) {
	waiting := models.RoomStatusWaiting
	rooms, err := s.store.ListRooms(ctx, roomstore.RoomFilter{Status: &waiting})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("lobby sweep failed, retrying next interval")
		}
		return
	}

	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()

	for _, r := range rooms {
		if !countdown.ShouldInitiate(r.Room, r.ParticipantCount) {
			continue
		}
		log.Info().
			Str("room_id", r.Room.ID.String()).
			Int("players", r.ParticipantCount).
			Msg("lobby found a full room, initiating countdown")
		initiatedAt := s.clock.Now()
		if err := s.store.UpdateRoom(ctx, r.Room.ID, roomstore.RoomPatch{CountdownInitiatedAt: &initiatedAt}); err != nil {
			log.Error().Err(err).Str("room_id", r.Room.ID.String()).Msg("failed to initiate countdown from lobby")
		}
	}
}

// Rooms returns the listing from the most recent successful sweep.
func (s *Scanner) Rooms() []roomstore.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]roomstore.RoomSummary, len(s.rooms))
	copy(out, s.rooms)
	return out
}
