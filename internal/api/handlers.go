package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"skytalk/internal/auth"
	"skytalk/internal/chat"
	"skytalk/internal/content"
	"skytalk/internal/models"
	"skytalk/internal/presence"
	"skytalk/internal/room"
	"skytalk/internal/rooms"
	"skytalk/internal/weather"
)

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RoomView is a room as listed by GET /api/rooms.
type RoomView struct {
	models.Room
	Weather *weather.Record `json:"weather,omitempty"`
}

// MessageView adds the rendered, sanitized HTML of a message. Text and
// image fields themselves are plain text.
type MessageView struct {
	models.Message
	HTML string `json:"html,omitempty"`
}

type PostMessageRequest struct {
	Content string               `json:"content"`
	Image   *models.ImagePayload `json:"image,omitempty"`
}

type API struct {
	auth      auth.Provider
	log       *chat.Log
	presence  *presence.Registry
	weather   weather.Provider
	staleness time.Duration
}

func New(provider auth.Provider, log *chat.Log, registry *presence.Registry, weather weather.Provider, staleness time.Duration) *API {
	if staleness <= 0 {
		staleness = room.DefaultStalenessWindow
	}
	return &API{
		auth:      provider,
		log:       log,
		presence:  registry,
		weather:   weather,
		staleness: staleness,
	}
}

type identityKey struct{}

// RequireIdentity rejects anonymous requests and requests for unknown rooms.
func (a *API) RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return a.RequireRoom(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := a.auth.CurrentUser(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

// RequireRoom answers 404 for room ids outside the catalog.
func (a *API) RequireRoom(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := rooms.Lookup(r.PathValue("id")); !ok {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}
		next(w, r)
	}
}

func identityFrom(ctx context.Context) models.Identity {
	identity, _ := ctx.Value(identityKey{}).(models.Identity)
	return identity
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	all := rooms.All()
	views := make([]RoomView, len(all))
	for i, rm := range all {
		views[i] = RoomView{Room: rm}
		if a.weather == nil {
			continue
		}
		if rec, err := a.weather.GetWeather(r.Context(), rm.ID); err == nil {
			views[i].Weather = &rec
		}
	}

	writeJSON(w, http.StatusOK, views)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.log.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "Failed to load messages", err)
		return
	}

	views := make([]MessageView, len(messages))
	for i, m := range messages {
		views[i] = MessageView{Message: m}

		var html string
		var err error
		switch {
		case m.Kind == models.MessageKindText:
			html, err = content.Render(m.Text)
		case m.Kind == models.MessageKindImage && m.Image != nil:
			html, err = content.RenderImage(*m.Image)
		}
		if err != nil {
			log.Printf("failed to render message %d: %v", m.ID, err)
			continue
		}
		views[i].HTML = html
	}

	writeJSON(w, http.StatusOK, views)
}

func (a *API) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	roomID := r.PathValue("id")
	identity := identityFrom(r.Context())

	var msg models.Message
	var err error
	if req.Image != nil {
		msg, err = room.NewImageMessage(r.Context(), a.weather, roomID, identity, *req.Image)
	} else {
		msg, err = room.NewTextMessage(identity, req.Content)
	}
	if err != nil {
		writeError(w, "Invalid message", err)
		return
	}

	msg, err = a.log.Append(r.Context(), roomID, msg)
	if err != nil {
		writeError(w, "Failed to send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("msgId"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid message id", http.StatusBadRequest)
		return
	}

	identity := identityFrom(r.Context())
	if err := a.log.DeleteOwn(r.Context(), r.PathValue("id"), id, identity.ID); err != nil {
		writeError(w, "Failed to delete message", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

// PresenceHandler lists who is here, without stale entries.
func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := a.presence.LiveSnapshot(r.Context(), r.PathValue("id"), a.staleness)
	if err != nil {
		writeError(w, "Failed to load presence", err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// HeartbeatHandler lets clients without a stream keep their presence entry fresh.
func (a *API) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.presence.Upsert(r.Context(), r.PathValue("id"), identityFrom(r.Context())); err != nil {
		writeError(w, "Failed to update presence", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (a *API) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.presence.Remove(r.Context(), r.PathValue("id"), identityFrom(r.Context()).ID); err != nil {
		writeError(w, "Failed to leave room", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

// StatusFor maps core errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, message string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s: %v", message, err)
	}
	writeJSON(w, status, Response{Success: false, Message: message + ": " + err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
