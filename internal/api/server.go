package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"exchange-mm/internal/config"
)

// Server runs the admin HTTP/WebSocket API: a read-mostly view of the bot
// plus scheduler control, pairing overrides, and runtime settings.
type Server struct {
	cfg      config.AdminConfig
	bot      BotController
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.AdminConfig, bot BotController, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(bot, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("POST /api/control", handlers.HandleControl)
	mux.HandleFunc("GET /api/overrides", handlers.HandleListOverrides)
	mux.HandleFunc("POST /api/overrides", handlers.HandleSetOverride)
	mux.HandleFunc("DELETE /api/overrides/{id}", handlers.HandleRemoveOverride)
	mux.HandleFunc("PUT /api/settings", handlers.HandleUpdateSettings)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		bot:      bot,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and hub
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.hub.Run()

	// Start event consumer
	go s.consumeEvents()

	s.logger.Info("admin server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents reads events from the engine and broadcasts them. Each
// completed cycle is followed by a fresh snapshot so stream consumers do not
// have to poll /api/snapshot.
func (s *Server) consumeEvents() {
	for evt := range s.bot.Events() {
		s.hub.BroadcastEvent(evt)
		if evt.Type == "cycle" {
			s.hub.BroadcastSnapshot(s.bot.Snapshot())
		}
	}
}
