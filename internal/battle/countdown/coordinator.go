package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// State is the coordinator's position in the countdown state machine.
type State string

const (
	StateIdle            State = "idle"
	StatePendingInitiate State = "pending_initiate"
	StateCounting        State = "counting"
	StateTriggering      State = "triggering"
	StateTerminal        State = "terminal"
)

// Callbacks are invoked by the coordinator as the room progresses.
// OnBattleStarted and OnRoomClosed fire at most once per coordinator
// lifetime; OnTick fires on every resync of the cosmetic countdown.
type Callbacks struct {
	OnBattleStarted func(roomID uuid.UUID)
	OnRoomClosed    func(roomID uuid.UUID)
	OnTick          func(roomID uuid.UUID, remainingSec int)
}

const defaultWriteTimeout = 5 * time.Second

// Coordinator drives the start countdown for one battle room. It consumes
// room snapshots (from an observer) and a local 1-second tick, and issues
// unguarded idempotent writes against the store: "set the countdown
// timestamp if you believe it is unset", "start the battle if you believe
// it is waiting". There is no central lock; any number of coordinators on
// independent clients may race on the same room, and every write they can
// disagree on sets the same logical fact, so the losers converge on their
// next observation.
type Coordinator struct {
	writer       roomstore.RoomWriter
	clock        clockwork.Clock
	roomID       uuid.UUID
	cb           Callbacks
	writeTimeout time.Duration

	mu           sync.Mutex
	state        State
	room         models.Room
	haveRoom     bool
	remainingSec int
	ticker       clockwork.Ticker
	tickStop     chan struct{}
	startedFired bool
	closedFired  bool
	stopped      bool
}

// New creates a coordinator for the given room. It owns no timers until a
// snapshot puts it in the counting state; Stop releases whatever it holds.
func New(writer roomstore.RoomWriter, clock clockwork.Clock, roomID uuid.UUID, cb Callbacks) *Coordinator {
	return &Coordinator{
		writer:       writer,
		clock:        clock,
		roomID:       roomID,
		cb:           cb,
		writeTimeout: defaultWriteTimeout,
		state:        StateIdle,
	}
}

// State returns the current machine state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemainingSeconds returns the locally held countdown display value. It is
// cosmetic; the room's CountdownInitiatedAt remains authoritative.
func (c *Coordinator) RemainingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingSec
}

// Observe applies a fresh room snapshot. Snapshots must arrive in the order
// the observer resolved them; the coordinator trusts each one as the latest
// known truth and re-evaluates every rule against it.
func (c *Coordinator) Observe(st roomstore.RoomState) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if st.Room.ID != c.roomID {
		c.mu.Unlock()
		log.Warn().
			Str("room_id", c.roomID.String()).
			Str("snapshot_room_id", st.Room.ID.String()).
			Msg("dropping snapshot for a different room")
		return
	}
	c.room = st.Room
	c.haveRoom = true

	room := st.Room
	now := c.clock.Now()

	switch {
	case room.Status == models.RoomStatusInProgress:
		c.toTerminalLocked()
		fire := !c.startedFired
		c.startedFired = true
		c.mu.Unlock()
		if fire {
			log.Info().Str("room_id", c.roomID.String()).Msg("battle started")
			if c.cb.OnBattleStarted != nil {
				c.cb.OnBattleStarted(c.roomID)
			}
		}

	case room.Status == models.RoomStatusCompleted:
		c.toTerminalLocked()
		fire := !c.closedFired
		c.closedFired = true
		c.mu.Unlock()
		if fire {
			log.Info().Str("room_id", c.roomID.String()).Msg("room closed")
			if c.cb.OnRoomClosed != nil {
				c.cb.OnRoomClosed(c.roomID)
			}
		}

	case ShouldInitiate(room, st.ParticipantCount()):
		// The write is a plain field-set, not a compare-and-swap. Several
		// clients may race here; whichever lands first wins and everyone
		// adopts the stored timestamp on their next observation.
		c.state = StatePendingInitiate
		c.stopTickerLocked()
		c.remainingSec = 0
		c.mu.Unlock()
		log.Info().Str("room_id", c.roomID.String()).Msg("room full, initiating countdown")
		initiatedAt := now
		c.writeAsync(roomstore.RoomPatch{CountdownInitiatedAt: &initiatedAt}, "initiate countdown")

	case room.CountdownInitiatedAt != nil:
		if Remaining(room, now) <= 0 {
			c.triggerLocked() // unlocks
			return
		}
		c.state = StateCounting
		c.remainingSec = RemainingSeconds(room, now)
		c.ensureTickerLocked()
		remaining := c.remainingSec
		c.mu.Unlock()
		if c.cb.OnTick != nil {
			c.cb.OnTick(c.roomID, remaining)
		}

	default:
		// Waiting, not full, no countdown recorded.
		c.state = StateIdle
		c.stopTickerLocked()
		c.remainingSec = 0
		c.mu.Unlock()
	}
}

// Stop releases the coordinator's timer and makes it inert. It is safe to
// call more than once and must be called on room switch or teardown so no
// dangling tick can fire a transition for an abandoned room.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.stopTickerLocked()
}

// handleTick runs on the local 1-second interval while counting. The display
// value is recomputed from the stored timestamp rather than decremented, so
// it can never drift from the authoritative derivation.
func (c *Coordinator) handleTick() {
	c.mu.Lock()
	if c.stopped || c.state != StateCounting || !c.haveRoom {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if Remaining(c.room, now) <= 0 {
		c.triggerLocked() // unlocks
		return
	}
	c.remainingSec = RemainingSeconds(c.room, now)
	remaining := c.remainingSec
	c.mu.Unlock()
	if c.cb.OnTick != nil {
		c.cb.OnTick(c.roomID, remaining)
	}
}

// triggerLocked issues the terminal-transition write. Called with the mutex
// held; unlocks before touching the store. The write sets the status and
// clears the countdown timestamp in one patch, and like initiation it is
// unguarded: concurrent triggers from other clients set the identical state.
func (c *Coordinator) triggerLocked() {
	c.state = StateTriggering
	c.stopTickerLocked()
	c.remainingSec = 0
	c.mu.Unlock()

	log.Info().Str("room_id", c.roomID.String()).Msg("countdown elapsed, starting battle")
	status := models.RoomStatusInProgress
	c.writeAsync(roomstore.RoomPatch{Status: &status, ClearCountdown: true}, "start battle")
}

func (c *Coordinator) toTerminalLocked() {
	c.state = StateTerminal
	c.stopTickerLocked()
	c.remainingSec = 0
}

func (c *Coordinator) ensureTickerLocked() {
	if c.ticker != nil {
		return
	}
	ticker := c.clock.NewTicker(time.Second)
	stop := make(chan struct{})
	c.ticker = ticker
	c.tickStop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				c.handleTick()
			}
		}
	}()
}

func (c *Coordinator) stopTickerLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.tickStop)
	c.ticker = nil
	c.tickStop = nil
}

// writeAsync fires a store write without blocking the caller. Failures are
// logged and dropped: every write the coordinator issues is re-derivable
// from a later snapshot, and some other client usually lands it first anyway.
func (c *Coordinator) writeAsync(patch roomstore.RoomPatch, what string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		if err := c.writer.UpdateRoom(ctx, c.roomID, patch); err != nil {
			log.Error().
				Err(err).
				Str("room_id", c.roomID.String()).
				Msgf("failed to %s", what)
		}
	}()
}
