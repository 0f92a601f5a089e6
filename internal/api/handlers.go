package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"lighttrail/internal/game"
	"lighttrail/internal/protocol"
)

// DefaultEventsLimit is how many events /api/events returns without ?limit.
const DefaultEventsLimit = 50

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	// Same bytes a websocket client receives, including the "type" tag
	frame, err := protocol.Encode(h.arena.Snapshot())
	if err != nil {
		log.Printf("❌ Encode state: %v", err)
		writeError(w, "Failed to encode state", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(frame)
}

func (h *routerHandlers) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"lobby_state":       h.arena.Lobby(),
		"players_connected": h.arena.PlayerCount(),
		"alive":             h.arena.AliveCount(),
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.ActiveSessions()
	}
	writeJSON(w, body)
}

func (h *routerHandlers) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, game.EventRecentSize)
	}

	events := h.arena.Events()
	writeJSON(w, map[string]interface{}{
		"events": events.Recent(limit),
		"stats":  events.GetStats(),
	})
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
