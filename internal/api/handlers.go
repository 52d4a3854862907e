package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for local development
		// TODO: restrict in production
		return true
	},
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	bot    BotController
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(bot BotController, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		bot:    bot,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSnapshot returns the full current state of the bot
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.bot.Snapshot())
}

// HandleControl starts or stops the replication scheduler.
func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "start":
		h.bot.StartScheduler()
	case "stop":
		h.bot.StopScheduler()
	default:
		h.writeError(w, http.StatusBadRequest, "action must be start or stop")
		return
	}

	h.logger.Info("scheduler control", "action", req.Action)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"scheduler_running": h.bot.SchedulerRunning(),
	})
}

// HandleListOverrides returns the manual pairing overrides.
func (h *Handlers) HandleListOverrides(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.bot.Overrides())
}

// HandleSetOverride pins a reference event to an exchange event, bypassing
// fuzzy matching.
func (h *Handlers) HandleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferenceEventID string `json:"reference_event_id"`
		ExchangeEventID  int    `json:"exchange_event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReferenceEventID == "" || req.ExchangeEventID == 0 {
		h.writeError(w, http.StatusBadRequest, "reference_event_id and exchange_event_id are required")
		return
	}

	h.bot.SetOverride(req.ReferenceEventID, req.ExchangeEventID)
	h.writeJSON(w, http.StatusOK, h.bot.Overrides())
}

// HandleRemoveOverride deletes a manual pairing override.
func (h *Handlers) HandleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	refID := r.PathValue("id")
	if refID == "" {
		h.writeError(w, http.StatusBadRequest, "missing reference event id")
		return
	}
	h.bot.RemoveOverride(refID)
	h.writeJSON(w, http.StatusOK, h.bot.Overrides())
}

// HandleUpdateSettings applies runtime-adjustable settings.
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.bot.UpdateSettings(update); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.bot.Snapshot().Config)
}

// HandleWebSocket upgrades the connection and creates a new WebSocket client
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// Create new client
	client := NewClient(h.hub, conn)

	// Send initial snapshot to the client
	evt := Event{
		Type: "snapshot",
		Data: h.bot.Snapshot(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}
