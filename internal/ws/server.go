package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"skytalk/internal/auth"
	"skytalk/internal/room"
	"skytalk/internal/rooms"

	"github.com/gorilla/websocket"
)

// Timing configures the sessions opened for streams. Zero values fall back to the room defaults.
type Timing struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	StalenessWindow   time.Duration
}

type Server struct {
	auth     auth.Provider
	deps     room.Deps
	timing   Timing
	upgrader *websocket.Upgrader
}

func NewServer(provider auth.Provider, deps room.Deps, timing Timing) *Server {
	return &Server{
		auth:   provider,
		deps:   deps,
		timing: timing,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleRoom upgrades GET /api/rooms/{id}/stream and holds a room session
// until either side closes the socket.
func (s *Server) HandleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if _, ok := rooms.Lookup(roomID); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	identity, ok := s.auth.CurrentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.open, ws, roomID, identity)
	if err := conn.Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("room %s stream for %s ended: %v", roomID, identity.ID, err)
	}
}

func (s *Server) open(ctx context.Context, config room.Config) (roomSession, error) {
	config.HeartbeatInterval = s.timing.HeartbeatInterval
	config.PollInterval = s.timing.PollInterval
	config.StalenessWindow = s.timing.StalenessWindow

	session, err := room.Open(ctx, s.deps, config)
	if err != nil {
		return nil, err
	}
	return session, nil
}
