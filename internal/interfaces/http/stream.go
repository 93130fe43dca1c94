package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const streamPollInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" ||
			strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// Stream pushes progress frames over a websocket until the scan reaches a
// terminal state. It layers over the same polling reads the REST surface
// uses, so cross-worker visibility rules are identical.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id") // browser websocket clients cannot set headers
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "X-User-ID header or user_id query is required")
		return
	}
	scanID := mux.Vars(r)["id"]

	if _, err := h.sessions.Status(r.Context(), userID, scanID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "scan not found or expired")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("scan_id", scanID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	lastCompleted := -1
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		view, err := h.sessions.Status(r.Context(), userID, scanID)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "scan expired"),
				time.Now().Add(time.Second))
			return
		}

		if view.StrategiesCompleted != lastCompleted || view.Status.Terminal() {
			lastCompleted = view.StrategiesCompleted
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		}

		if view.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(view.Status)),
				time.Now().Add(time.Second))
			return
		}
	}
}
