// Package postgres implements roomstore.Store on Postgres: pgx for queries
// and LISTEN/NOTIFY (via lib/pq) for the change-notification stream. Row
// triggers emit a notification for every insert/update/delete on rooms and
// participants; the listener fans those out to in-process subscribers.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
)

//go:embed schema.sql
var schema string

const pgUniqueViolation = "23505"

// Store is the Postgres-backed room store.
type Store struct {
	pool     *pgxpool.Pool
	listener *Listener
}

// NewStore creates a store over an existing pool and notification listener.
func NewStore(pool *pgxpool.Pool, listener *Listener) *Store {
	return &Store{pool: pool, listener: listener}
}

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const roomColumns = `id, code, battle_type, max_players, status, host_id,
	time_per_question_sec, total_questions, subject,
	countdown_initiated_at, host_ping_requested_at,
	last_ping_sender_id, COALESCE(last_ping_sender_username, ''),
	created_at, updated_at`

// CreateRoom inserts a room, generating its id and join code when unset.
func (s *Store) CreateRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.Code == "" {
		room.Code = strings.ToUpper(strings.ReplaceAll(room.ID.String(), "-", "")[:6])
	}
	if room.Status == "" {
		room.Status = models.RoomStatusWaiting
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO battle_rooms (id, code, battle_type, max_players, status, host_id,
			time_per_question_sec, total_questions, subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+roomColumns,
		room.ID, room.Code, room.BattleType, room.MaxPlayers, room.Status, room.HostID,
		room.Settings.TimePerQuestionSec, room.Settings.TotalQuestions, room.Settings.Subject,
	)
	created, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return created, nil
}

// GetRoom returns the room and its participants.
func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*roomstore.RoomState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM battle_rooms WHERE id = $1`, id)
	return s.state(ctx, row)
}

// GetRoomByCode looks a room up by its short join code.
func (s *Store) GetRoomByCode(ctx context.Context, code string) (*roomstore.RoomState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM battle_rooms WHERE code = $1`,
		strings.ToUpper(code))
	return s.state(ctx, row)
}

// UpdateRoom applies a partial-field write. Only the columns named in the
// patch are assigned, last-write-wins, with no guard; an empty patch is a
// no-op.
func (s *Store) UpdateRoom(ctx context.Context, id uuid.UUID, patch roomstore.RoomPatch) error {
	if patch.IsZero() {
		return nil
	}

	set := []string{"updated_at = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		set = append(set, "status = "+arg(*patch.Status))
	}
	if patch.HostID != nil {
		set = append(set, "host_id = "+arg(*patch.HostID))
	}
	if patch.ClearCountdown {
		set = append(set, "countdown_initiated_at = NULL")
	} else if patch.CountdownInitiatedAt != nil {
		set = append(set, "countdown_initiated_at = "+arg(*patch.CountdownInitiatedAt))
	}
	if patch.HostPing != nil {
		set = append(set, "host_ping_requested_at = "+arg(patch.HostPing.RequestedAt))
		set = append(set, "last_ping_sender_id = "+arg(patch.HostPing.SenderID))
		set = append(set, "last_ping_sender_username = "+arg(patch.HostPing.SenderUsername))
	}

	query := fmt.Sprintf("UPDATE battle_rooms SET %s WHERE id = %s",
		strings.Join(set, ", "), arg(id))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return roomstore.ErrRoomNotFound
	}
	return nil
}

// DeleteRoom removes the room; participants go with it via cascade.
func (s *Store) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM battle_rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return roomstore.ErrRoomNotFound
	}
	return nil
}

// ListRooms returns room summaries with participant counts.
func (s *Store) ListRooms(ctx context.Context, filter roomstore.RoomFilter) ([]roomstore.RoomSummary, error) {
	query := `
		SELECT r.id, r.code, r.battle_type, r.max_players, r.status, r.host_id,
			r.time_per_question_sec, r.total_questions, r.subject,
			r.countdown_initiated_at, r.host_ping_requested_at,
			r.last_ping_sender_id, COALESCE(r.last_ping_sender_username, ''),
			r.created_at, r.updated_at,
			COUNT(p.user_id) AS participant_count
		FROM battle_rooms r
		LEFT JOIN battle_participants p ON p.room_id = r.id`
	var args []any
	if filter.Status != nil {
		query += ` WHERE r.status = $1`
		args = append(args, *filter.Status)
	}
	query += ` GROUP BY r.id ORDER BY r.created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []roomstore.RoomSummary
	for rows.Next() {
		var (
			room  models.Room
			count int
		)
		if err := rows.Scan(
			&room.ID, &room.Code, &room.BattleType, &room.MaxPlayers, &room.Status, &room.HostID,
			&room.Settings.TimePerQuestionSec, &room.Settings.TotalQuestions, &room.Settings.Subject,
			&room.CountdownInitiatedAt, &room.HostPingRequestedAt,
			&room.LastPingSenderID, &room.LastPingSenderUsername,
			&room.CreatedAt, &room.UpdatedAt,
			&count,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room summary: %w", err)
		}
		out = append(out, roomstore.RoomSummary{Room: room, ParticipantCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read room summaries: %w", err)
	}
	return out, nil
}

// InsertParticipant seats a user. The capacity re-check happens in the same
// statement as the insert: the row is only written while the current seat
// count is below max_players, so a zero-row result means the room filled up
// between the caller's read and this write.
func (s *Store) InsertParticipant(ctx context.Context, roomID uuid.UUID, p models.Participant) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO battle_participants (room_id, user_id, username, joined_at, team)
		SELECT $1, $2, $3, $4, $5
		WHERE (SELECT COUNT(*) FROM battle_participants WHERE room_id = $1) <
		      (SELECT max_players FROM battle_rooms WHERE id = $1)`,
		roomID, p.UserID, p.Username, p.JoinedAt, p.Team,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return roomstore.ErrAlreadyJoined
		}
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return roomstore.ErrRoomFull
	}
	return nil
}

// DeleteParticipant removes a user's seat.
func (s *Store) DeleteParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM battle_participants WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return roomstore.ErrParticipantNotFound
	}
	return nil
}

// Subscribe registers fn with the notification listener.
func (s *Store) Subscribe(ctx context.Context, roomID uuid.UUID, fn func(roomstore.ChangeEvent)) (func(), error) {
	if s.listener == nil {
		return nil, fmt.Errorf("store has no notification listener")
	}
	return s.listener.Subscribe(roomID, fn), nil
}

func (s *Store) state(ctx context.Context, row pgx.Row) (*roomstore.RoomState, error) {
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roomstore.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT room_id, user_id, username, joined_at, team
		FROM battle_participants WHERE room_id = $1 ORDER BY joined_at`, room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	st := &roomstore.RoomState{Room: *room}
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Username, &p.JoinedAt, &p.Team); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		st.Participants = append(st.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	return st, nil
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var room models.Room
	if err := row.Scan(
		&room.ID, &room.Code, &room.BattleType, &room.MaxPlayers, &room.Status, &room.HostID,
		&room.Settings.TimePerQuestionSec, &room.Settings.TotalQuestions, &room.Settings.Subject,
		&room.CountdownInitiatedAt, &room.HostPingRequestedAt,
		&room.LastPingSenderID, &room.LastPingSenderUsername,
		&room.CreatedAt, &room.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &room, nil
}
