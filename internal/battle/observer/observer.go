// Package observer keeps a best-effort up-to-date local copy of one room.
//
// Two independent refresh sources feed it: a fixed-interval poll against the
// store and the store's push-style change notifications. Either may fire at
// any time, in any order, duplicated or stale. The observer does no merging:
// every refresh is a full refetch, and whichever fetch resolves most recently
// replaces the snapshot wholesale (last write wins by recency, not source).
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is how often the observer refetches regardless of
// push notifications.
const DefaultPollInterval = 3 * time.Second

// SnapshotHandler receives every snapshot the observer applies, in
// application order.
type SnapshotHandler func(roomstore.RoomState)

// Observer maintains the local room copy. Create one per observed room;
// on room switch, stop it and start a fresh one so no poll or subscription
// outlives the room it was made for.
type Observer struct {
	store    roomstore.RoomReader
	clock    clockwork.Clock
	roomID   uuid.UUID
	interval time.Duration
	handler  SnapshotHandler

	// refreshCh coalesces push notifications: a burst of events while a
	// fetch is in flight collapses into one pending refetch.
	refreshCh chan struct{}

	mu     sync.Mutex
	latest *roomstore.RoomState

	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
	started     bool
	stopped     bool
}

// Option configures an Observer.
type Option func(*Observer)

// WithPollInterval overrides the poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Observer) { o.interval = d }
}

// New creates an observer for the given room. handler may be nil.
func New(store roomstore.RoomReader, clock clockwork.Clock, roomID uuid.UUID, handler SnapshotHandler, opts ...Option) *Observer {
	o := &Observer{
		store:     store,
		clock:     clock,
		roomID:    roomID,
		interval:  DefaultPollInterval,
		handler:   handler,
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start subscribes to change notifications and launches the poll loop. The
// first fetch happens immediately so callers see a snapshot without waiting
// a full interval.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	unsubscribe, err := o.store.Subscribe(loopCtx, o.roomID, o.onChange)
	if err != nil {
		cancel()
		// Nothing was launched; let the caller retry Start or call Stop
		// without either one hanging.
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return err
	}
	o.unsubscribe = unsubscribe

	go o.run(loopCtx)
	return nil
}

// Stop tears the observer down: the subscription is released, the poll
// ticker is stopped, and the loop goroutine is waited out. After Stop no
// further snapshot is delivered to the handler. Stopping an observer that
// never started, or whose Start failed, is a no-op.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.stopped || !o.started {
		o.stopped = true
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.cancel()
	o.unsubscribe()
	<-o.done
}

// Latest returns the most recently applied snapshot, or nil before the
// first successful fetch.
func (o *Observer) Latest() *roomstore.RoomState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest
}

// onChange handles a push notification from the store. Row data is never
// trusted or patched in: any event, including participant-table changes,
// just schedules a full refetch.
func (o *Observer) onChange(ev roomstore.ChangeEvent) {
	if ev.RoomID != o.roomID {
		return
	}
	select {
	case o.refreshCh <- struct{}{}:
	default:
	}
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.done)

	ticker := o.clock.NewTicker(o.interval)
	defer ticker.Stop()

	o.fetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			o.fetch(ctx)
		case <-o.refreshCh:
			o.fetch(ctx)
		}
	}
}

// fetch refetches the room and applies the result. A failed fetch is logged
// and dropped; the next tick or notification retries it. Fetches happen
// sequentially in the loop goroutine, so application order is arrival order.
func (o *Observer) fetch(ctx context.Context) {
	st, err := o.store.GetRoom(ctx, o.roomID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().
			Err(err).
			Str("room_id", o.roomID.String()).
			Msg("room refresh failed, retrying next cycle")
		return
	}
	o.apply(*st)
}

// apply replaces the local snapshot. The one ordering rule enforced here is
// intra-client status monotonicity: a fetch that raced with a concurrent
// write and came back with an earlier lifecycle status is dropped rather
// than reverting the room backward.
func (o *Observer) apply(st roomstore.RoomState) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	if o.latest != nil && st.Room.Status.Rank() < o.latest.Room.Status.Rank() {
		prev := o.latest.Room.Status
		o.mu.Unlock()
		log.Warn().
			Str("room_id", o.roomID.String()).
			Str("have", string(prev)).
			Str("got", string(st.Room.Status)).
			Msg("dropping stale snapshot with backward status")
		return
	}
	o.latest = &st
	handler := o.handler
	o.mu.Unlock()

	if handler != nil {
		handler(st)
	}
}
