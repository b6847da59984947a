package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/onnwee/voicebridge/reconcile"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db     *sql.DB
	engine Engine
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, engine Engine) *Handlers {
	return &Handlers{db: db, engine: engine}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// roundStartRequest is the body of POST /rounds/start.
type roundStartRequest struct {
	Teams map[string][]string `json:"teams"`
}

// HandleRoundStart enqueues a round-start reconciliation. The call is
// fire-and-forget: 202 means enqueued, 503 means the queue was full and the
// request was dropped.
func (h *Handlers) HandleRoundStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req roundStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if !h.engine.OnRoundStart(reconcile.Roster(req.Teams)) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sync queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleRoundEnd enqueues a round-end reconciliation. Same fire-and-forget
// contract as round start.
func (h *Handlers) HandleRoundEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.engine.OnRoundEnd() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sync queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// linkRequest is the body of POST /links.
type linkRequest struct {
	Player    string `json:"player"`
	DiscordID string `json:"discord_id"`
}

// HandleLinks creates or replaces a player link. Validation failure is the one
// synchronous user-visible error in the API: 422 with no mutation.
func (h *Handlers) HandleLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if !h.engine.LinkPlayer(r.Context(), req.Player, req.DiscordID) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid player or discord_id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked", "player": req.Player, "discord_id": req.DiscordID})
}

// HandleLinksDispatcher routes /links/{player} to lookup or removal.
func (h *Handlers) HandleLinksDispatcher(w http.ResponseWriter, r *http.Request) {
	player := strings.TrimPrefix(r.URL.Path, "/links/")
	if player == "" || strings.Contains(player, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		discordID, ok := h.engine.ResolveLink(player)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "player not linked"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"player": player, "discord_id": discordID})
	case http.MethodDelete:
		if !h.engine.UnlinkPlayer(r.Context(), player) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "player not linked"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked", "player": player})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. The database gates
// readiness; gateway state is reported but does not fail the probe since the
// engine degrades to REST voice-state lookups without it.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "database",
			"error":        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"gateway_connected": h.engine.Status().GatewayConnected,
	})
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	reconcile.Status
	LastRoundStart string `json:"last_round_start,omitempty"`
	LastRoundEnd   string `json:"last_round_end,omitempty"`
}

// HandleStatus summarizes engine state plus the persisted sync heartbeats.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Status: h.engine.Status()}
	for key, dst := range map[string]*string{
		"last_round_start": &resp.LastRoundStart,
		"last_round_end":   &resp.LastRoundEnd,
	} {
		var v string
		err := h.db.QueryRowContext(r.Context(), "SELECT value FROM kv WHERE key=$1", key).Scan(&v)
		if err == nil {
			*dst = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
