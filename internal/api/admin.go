package api

import (
	"net/http"
	"strconv"

	"skytalk/internal/chat"
	"skytalk/internal/presence"
	"skytalk/internal/rooms"
)

type AdminHandler struct {
	log     *chat.Log
	sweeper *presence.Sweeper
}

func NewAdminHandler(log *chat.Log, sweeper *presence.Sweeper) *AdminHandler {
	return &AdminHandler{log: log, sweeper: sweeper}
}

type SweepResponse struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
}

// DeleteMessageHandler is the moderator delete: any message, any author.
func (h *AdminHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if _, ok := rooms.Lookup(roomID); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("msgId"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid message id", http.StatusBadRequest)
		return
	}

	if err := h.log.Delete(r.Context(), roomID, id); err != nil {
		writeError(w, "Failed to delete message", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Message " + strconv.FormatInt(id, 10) + " deleted from " + roomID,
	})
}

// SweepHandler removes stale presence entries from every room right away.
func (h *AdminHandler) SweepHandler(w http.ResponseWriter, r *http.Request) {
	removed := h.sweeper.SweepAll(r.Context())

	writeJSON(w, http.StatusOK, SweepResponse{Success: true, Removed: removed})
}
