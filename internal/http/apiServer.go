package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"skytalk/internal/api"
	"skytalk/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer wires the public routes. Open room streams are tied to the
// server base context and end when Shutdown is called.
func NewAPIServer(apiHandlers *api.API, streams *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/rooms", apiHandlers.RoomsHandler)
	mux.HandleFunc("GET /api/rooms/{id}/messages", apiHandlers.RequireRoom(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/rooms/{id}/messages", apiHandlers.RequireIdentity(apiHandlers.PostMessageHandler))
	mux.HandleFunc("DELETE /api/rooms/{id}/messages/{msgId}", apiHandlers.RequireIdentity(apiHandlers.DeleteMessageHandler))
	mux.HandleFunc("GET /api/rooms/{id}/presence", apiHandlers.RequireRoom(apiHandlers.PresenceHandler))
	mux.HandleFunc("POST /api/rooms/{id}/presence", apiHandlers.RequireIdentity(apiHandlers.HeartbeatHandler))
	mux.HandleFunc("DELETE /api/rooms/{id}/presence", apiHandlers.RequireIdentity(apiHandlers.LeaveHandler))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/rooms/{id}/stream", streams.HandleRoom)

	if addr == "" {
		addr = "localhost:8080"
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancel)

	return &APIServer{server: server}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	slog.Info("api server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
