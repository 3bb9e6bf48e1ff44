package handler

import (
	"net/http"

	"shared-list-server/internal/middleware"
	"shared-list-server/internal/stream"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type StreamHandler struct {
	lists    *ListHandler
	streamer *stream.Streamer
}

func NewStreamHandler(lists *ListHandler, streamer *stream.Streamer) *StreamHandler {
	return &StreamHandler{
		lists:    lists,
		streamer: streamer,
	}
}

// HandleConnection opens the change stream for a list: WebSocket when the
// request asks for an upgrade, server-sent events otherwise.
func (h *StreamHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]
	participantID := middleware.GetParticipantID(r)

	if _, err := h.lists.service.Get(r.Context(), listID); err != nil {
		h.lists.writeError(w, err, "Failed to open stream")
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		h.streamer.ServeWebSocket(w, r, listID, participantID)
		return
	}
	h.streamer.ServeSSE(w, r, listID, participantID)
}
