// Package runner supervises one observer/coordinator pair per waiting room.
// It watches the lobby listing and makes sure every waiting room has a
// coordinator driving its countdown, even when no participant's client is
// connected. Several runner processes may watch the same store; the
// countdown protocol is built on idempotent writes, so they race safely.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/countdown"
	"github.com/rmehta12/prepbattle/internal/battle/observer"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is how often the runner reconciles its pairs against
// the waiting-room listing.
const DefaultSweepInterval = 5 * time.Second

// Runner keeps coordinators alive for waiting rooms.
type Runner struct {
	store    roomstore.Store
	clock    clockwork.Clock
	cb       countdown.Callbacks
	interval time.Duration

	mu     sync.Mutex
	active map[uuid.UUID]*pair
}

type pair struct {
	obs   *observer.Observer
	coord *countdown.Coordinator
}

// Option configures a Runner.
type Option func(*Runner)

// WithSweepInterval overrides the reconcile interval.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// New creates a runner. The callbacks are shared by every coordinator the
// runner starts; they still fire at most once per room.
func New(store roomstore.Store, clock clockwork.Clock, cb countdown.Callbacks, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		clock:    clock,
		cb:       cb,
		interval: DefaultSweepInterval,
		active:   make(map[uuid.UUID]*pair),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles until the context is cancelled, then stops every pair.
func (r *Runner) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.stopAll()
			return
		case <-ticker.Chan():
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reconcile pass: start pairs for new waiting rooms and
// reap pairs whose coordinator reached the terminal state.
func (r *Runner) Sweep(ctx context.Context) {
	waiting := models.RoomStatusWaiting
	rooms, err := r.store.ListRooms(ctx, roomstore.RoomFilter{Status: &waiting})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("runner sweep failed, retrying next interval")
		}
		return
	}

	listed := make(map[uuid.UUID]bool, len(rooms))
	for _, room := range rooms {
		listed[room.Room.ID] = true
		r.ensure(ctx, room.Room.ID)
	}
	r.reap(ctx, listed)
}

// ActiveRooms returns the ids the runner currently coordinates.
func (r *Runner) ActiveRooms() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	return out
}

func (r *Runner) ensure(ctx context.Context, roomID uuid.UUID) {
	r.mu.Lock()
	if _, ok := r.active[roomID]; ok {
		r.mu.Unlock()
		return
	}
	// Reserve the slot before starting so a slow Start cannot double-run.
	r.active[roomID] = nil
	r.mu.Unlock()

	coord := countdown.New(r.store, r.clock, roomID, r.cb)
	obs := observer.New(r.store, r.clock, roomID, coord.Observe)
	if err := obs.Start(ctx); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to start room observer")
		coord.Stop()
		r.mu.Lock()
		delete(r.active, roomID)
		r.mu.Unlock()
		return
	}

	log.Info().Str("room_id", roomID.String()).Msg("coordinating room")
	r.mu.Lock()
	r.active[roomID] = &pair{obs: obs, coord: coord}
	r.mu.Unlock()
}

// reap stops pairs that no longer need coordinating: the coordinator reached
// its terminal state, or the room itself is gone. Stopping releases the
// pair's poll ticker and countdown ticker, so an abandoned room keeps no
// timers alive. A room merely absent from the waiting listing may just have
// started its battle, so the pair stays until the coordinator observes the
// new status; only a confirmed ErrRoomNotFound counts as deleted.
func (r *Runner) reap(ctx context.Context, listed map[uuid.UUID]bool) {
	r.mu.Lock()
	var done []*pair
	var unlisted []uuid.UUID
	for id, p := range r.active {
		if p == nil {
			continue
		}
		if p.coord.State() == countdown.StateTerminal {
			done = append(done, p)
			delete(r.active, id)
			log.Info().Str("room_id", id.String()).Msg("room reached terminal state, releasing")
			continue
		}
		if !listed[id] {
			unlisted = append(unlisted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range unlisted {
		if _, err := r.store.GetRoom(ctx, id); !errors.Is(err, roomstore.ErrRoomNotFound) {
			continue
		}
		r.mu.Lock()
		p := r.active[id]
		delete(r.active, id)
		r.mu.Unlock()
		if p != nil {
			done = append(done, p)
			log.Info().Str("room_id", id.String()).Msg("room deleted, releasing")
		}
	}

	for _, p := range done {
		p.coord.Stop()
		p.obs.Stop()
	}
}

func (r *Runner) stopAll() {
	r.mu.Lock()
	pairs := make([]*pair, 0, len(r.active))
	for id, p := range r.active {
		if p != nil {
			pairs = append(pairs, p)
		}
		delete(r.active, id)
	}
	r.mu.Unlock()

	for _, p := range pairs {
		p.coord.Stop()
		p.obs.Stop()
	}
}
