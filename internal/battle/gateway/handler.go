package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/actions"
	"github.com/rmehta12/prepbattle/internal/battle/countdown"
	"github.com/rmehta12/prepbattle/internal/battle/lobby"
	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rs/zerolog/log"
)

// Handler serves the gateway's HTTP surface: room lifecycle and participant
// operations, the lobby listing, room state resync reads, and the room
// WebSocket endpoint.
type Handler struct {
	store   roomstore.Store
	actions *actions.Actions
	scanner *lobby.Scanner
	cm      *ConnectionManager
	clock   clockwork.Clock
}

// NewHandler creates the HTTP handler.
func NewHandler(store roomstore.Store, acts *actions.Actions, scanner *lobby.Scanner, cm *ConnectionManager, clock clockwork.Clock) *Handler {
	return &Handler{store: store, actions: acts, scanner: scanner, cm: cm, clock: clock}
}

// RegisterRoutes attaches the gateway routes to a mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/lobby", h.handleLobby)
	mux.HandleFunc("POST /api/rooms", h.handleCreateRoom)
	mux.HandleFunc("GET /api/room-codes/{code}", h.handleRoomByCode)
	mux.HandleFunc("GET /api/rooms/{id}/state", h.handleRoomState)
	mux.HandleFunc("DELETE /api/rooms/{id}", h.handleDeleteRoom)
	mux.HandleFunc("POST /api/rooms/{id}/join", h.handleJoin)
	mux.HandleFunc("POST /api/rooms/{id}/leave", h.handleLeave)
	mux.HandleFunc("POST /api/rooms/{id}/kick", h.handleKick)
	mux.HandleFunc("POST /api/rooms/{id}/ping-host", h.handlePingHost)
	mux.HandleFunc("POST /api/rooms/{id}/complete", h.handleCompleteBattle)
	mux.HandleFunc("GET /ws/rooms/{id}", h.handleWebSocket)
}

// RoomStateResponse is the resync payload a reconnecting client fetches:
// the room, its participants, and the server-computed countdown remainder.
type RoomStateResponse struct {
	Room                 models.Room          `json:"room"`
	Participants         []models.Participant `json:"participants"`
	RemainingSec         int                  `json:"remaining_sec"`
	CountdownDurationSec int                  `json:"countdown_duration_sec"`
	ServerTime           time.Time            `json:"server_time"`
}

// LobbyResponse lists open rooms with their seat counts.
type LobbyResponse struct {
	Rooms []LobbyRoom `json:"rooms"`
}

// LobbyRoom is one open room in the lobby listing.
type LobbyRoom struct {
	Room             models.Room `json:"room"`
	ParticipantCount int         `json:"participant_count"`
}

// CreateRoomRequest is the body for POST /api/rooms.
type CreateRoomRequest struct {
	BattleType   models.BattleType   `json:"battle_type"`
	MaxPlayers   int                 `json:"max_players"`
	HostID       uuid.UUID           `json:"host_id"`
	HostUsername string              `json:"host_username"`
	Settings     models.QuizSettings `json:"settings"`
}

// ParticipantRequest identifies the acting user for join/leave/ping bodies.
type ParticipantRequest struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Team     *string   `json:"team,omitempty"`
}

// KickRequest is the body for POST /api/rooms/{id}/kick.
type KickRequest struct {
	CallerID uuid.UUID `json:"caller_id"`
	TargetID uuid.UUID `json:"target_id"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) handleLobby(w http.ResponseWriter, r *http.Request) {
	resp := LobbyResponse{Rooms: []LobbyRoom{}}
	for _, s := range h.scanner.Rooms() {
		resp.Rooms = append(resp.Rooms, LobbyRoom{Room: s.Room, ParticipantCount: s.ParticipantCount})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	st, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to read room state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := h.clock.Now()
	writeJSON(w, http.StatusOK, RoomStateResponse{
		Room:                 st.Room,
		Participants:         st.Participants,
		RemainingSec:         countdown.RemainingSeconds(st.Room, now),
		CountdownDurationSec: int(countdown.Duration(st.Room.BattleType).Seconds()),
		ServerTime:           now,
	})
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.BattleType {
	case models.BattleTypeOneVOne, models.BattleTypeTwoVTwo, models.BattleTypeFreeForAll:
	default:
		http.Error(w, "invalid battle type", http.StatusBadRequest)
		return
	}
	if req.MaxPlayers < 2 || req.HostID == uuid.Nil {
		http.Error(w, "max_players and host_id are required", http.StatusBadRequest)
		return
	}

	room, err := h.store.CreateRoom(r.Context(), models.Room{
		BattleType: req.BattleType,
		MaxPlayers: req.MaxPlayers,
		Status:     models.RoomStatusWaiting,
		HostID:     req.HostID,
		Settings:   req.Settings,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The host takes the first seat of their own room.
	if err := h.actions.Join(r.Context(), room.ID, actions.User{ID: req.HostID, Username: req.HostUsername}); err != nil {
		log.Error().Err(err).Str("room_id", room.ID.String()).Msg("failed to seat host in new room")
	}

	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) handleRoomByCode(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetRoomByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("failed to look up room by code")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st.Room)
}

func (h *Handler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteRoom(r.Context(), roomID); err != nil {
		writeActionError(w, roomID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomID, req, ok := participantRequest(w, r)
	if !ok {
		return
	}
	err := h.actions.Join(r.Context(), roomID, actions.User{ID: req.UserID, Username: req.Username, Team: req.Team})
	if err != nil {
		writeActionError(w, roomID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	roomID, req, ok := participantRequest(w, r)
	if !ok {
		return
	}
	if err := h.actions.Leave(r.Context(), roomID, req.UserID); err != nil {
		writeActionError(w, roomID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleKick(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	var req KickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallerID == uuid.Nil || req.TargetID == uuid.Nil {
		http.Error(w, "caller_id and target_id are required", http.StatusBadRequest)
		return
	}
	if err := h.actions.Kick(r.Context(), roomID, req.CallerID, req.TargetID); err != nil {
		writeActionError(w, roomID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePingHost(w http.ResponseWriter, r *http.Request) {
	roomID, req, ok := participantRequest(w, r)
	if !ok {
		return
	}
	err := h.actions.RequestHostPing(r.Context(), roomID, actions.User{ID: req.UserID, Username: req.Username})
	if err != nil {
		writeActionError(w, roomID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCompleteBattle(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if err := h.actions.CompleteBattle(r.Context(), roomID); err != nil {
		writeActionError(w, roomID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func participantRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, ParticipantRequest, bool) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return uuid.Nil, ParticipantRequest{}, false
	}
	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return uuid.Nil, ParticipantRequest{}, false
	}
	return roomID, req, true
}

// writeActionError maps domain rejections to status codes. Rejections are
// synchronous and final; only unrecognized errors surface as 500s.
func writeActionError(w http.ResponseWriter, roomID uuid.UUID, err error) {
	switch {
	case errors.Is(err, roomstore.ErrRoomNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
	case errors.Is(err, actions.ErrNotParticipant), errors.Is(err, roomstore.ErrParticipantNotFound):
		http.Error(w, "user is not in the room", http.StatusNotFound)
	case errors.Is(err, actions.ErrRoomFull):
		http.Error(w, "room is full", http.StatusConflict)
	case errors.Is(err, actions.ErrRoomNotWaiting):
		http.Error(w, "room is no longer waiting", http.StatusConflict)
	case errors.Is(err, actions.ErrBattleNotRunning):
		http.Error(w, "battle is not in progress", http.StatusConflict)
	case errors.Is(err, actions.ErrNotHost),
		errors.Is(err, actions.ErrKickSelf),
		errors.Is(err, actions.ErrPingSelf):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("room action failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := h.cm.Upgrade(w, r, userID, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("websocket upgrade failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
