package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// ListenerConfig holds LISTEN/NOTIFY settings.
type ListenerConfig struct {
	DatabaseURL          string        // Postgres DSN for LISTEN/NOTIFY
	Channel              string        // channel name to LISTEN on
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

// DefaultListenerConfig returns the listener defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Channel:              "battle_room_changes",
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// Listener receives pg_notify payloads for room and participant changes and
// fans them out to in-process subscribers. Delivery is at-least-once from
// the subscriber's point of view and drops silently across reconnects, which
// is exactly the guarantee the observers are built to tolerate (their poll
// covers the gaps).
type Listener struct {
	pql *pq.Listener
	cfg ListenerConfig

	mu     sync.Mutex
	subs   map[int]subscriber
	nextID int
}

type subscriber struct {
	roomID uuid.UUID // uuid.Nil means all rooms
	fn     func(roomstore.ChangeEvent)
}

// notifyPayload mirrors what the row triggers build with json_build_object.
type notifyPayload struct {
	Table  string    `json:"table"`
	Op     string    `json:"op"`
	RoomID uuid.UUID `json:"room_id"`
}

// NewListener opens a LISTEN connection on the configured channel.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	pql := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := pql.Listen(cfg.Channel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.Channel).Msg("listening for room change notifications")

	return &Listener{
		pql:  pql,
		cfg:  cfg,
		subs: make(map[int]subscriber),
	}, nil
}

// Subscribe registers fn for events on one room, or on all rooms when
// roomID is uuid.Nil. The returned cancel func releases the registration.
func (l *Listener) Subscribe(roomID uuid.UUID, fn func(roomstore.ChangeEvent)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = subscriber{roomID: roomID, fn: fn}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// Start consumes notifications until the context is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room change listener shutting down")
			return l.pql.Close()
		case note := <-l.pql.Notify:
			if note == nil {
				// nil notification means the connection was lost and
				// re-established; notifications in between are gone.
				continue
			}
			l.dispatch(note.Extra)
		case <-pingTicker.C:
			if err := l.pql.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener connection")
			}
		}
	}
}

func (l *Listener) dispatch(payload string) {
	var note notifyPayload
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("invalid change notification payload")
		return
	}

	ev := roomstore.ChangeEvent{
		Op:     roomstore.Op(note.Op),
		RoomID: note.RoomID,
	}
	switch note.Table {
	case "battle_rooms":
		ev.Table = roomstore.TableRooms
	case "battle_participants":
		ev.Table = roomstore.TableParticipants
	default:
		log.Warn().Str("table", note.Table).Msg("change notification for unknown table")
		return
	}

	l.mu.Lock()
	var targets []func(roomstore.ChangeEvent)
	for _, sub := range l.subs {
		if sub.roomID == uuid.Nil || sub.roomID == ev.RoomID {
			targets = append(targets, sub.fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}
