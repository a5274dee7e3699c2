package api

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/npezzotti/go-watchparty/internal/types"
)

// RoomSummary is returned when a room is created.
type RoomSummary struct {
	RoomCode      string    `json:"roomCode"`
	ShareableLink string    `json:"shareableLink"`
	HostId        string    `json:"hostId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MessageHistory is one page of chat history, oldest first.
type MessageHistory struct {
	Messages []types.Message `json:"messages"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func (s *WatchPartyApp) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check")
		s.writeJson(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *WatchPartyApp) createRoom(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())

	room, err := s.coord.CreateRoom(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, RoomSummary{
		RoomCode:      room.RoomCode,
		ShareableLink: s.frontendURL + "/room/" + room.RoomCode,
		HostId:        room.HostId,
		CreatedAt:     room.CreatedAt,
	})
}

func (s *WatchPartyApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.coord.Room(r.Context(), r.PathValue("roomCode"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *WatchPartyApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())

	room, err := s.coord.Admit(r.Context(), r.PathValue("roomCode"), user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *WatchPartyApp) getMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var before time.Time
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.writeError(w, apperror.InvalidInput("Invalid before parameter").WithErr(err))
			return
		}
		before = t
	}

	var limit int
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, apperror.InvalidInput("Invalid limit parameter"))
			return
		}
		limit = n
	}

	msgs, err := s.coord.Messages(r.Context(), r.PathValue("roomCode"), before, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if msgs == nil {
		msgs = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, MessageHistory{Messages: msgs})
}

func (s *WatchPartyApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.allowedOrigins, origin)
}

func (s *WatchPartyApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an error response
		s.log.Debug().Err(err).Str("user", user.UserId).Msg("websocket upgrade")
		return
	}

	c := server.NewClient(user, conn, s.coord, s.log, s.stats)
	s.coord.Register(c)

	go c.Write()
	go c.Read()
}
