// Odds replication bot — replicates a sharp reference bookmaker's prices
// onto a peer-to-peer betting exchange by posting the opposing side of each
// quote at arbitrage-balanced stakes.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/                 — orchestrator: runs the poll cycle end to end
//	oddsfeed/               — client for the odds aggregator (reference snapshot + credits)
//	exchange/               — REST client for the betting exchange (auth, wagers, market trees)
//	resolve/                — pairs reference events with exchange events, maps outcomes to lines
//	pricing/                — hedge odds, commission adjustment, ladder snap, arbitrage sizing
//	position/               — projects the exchange's wager histories into per-line positions
//	controller/             — per-line state machine: place, top up, cool down, invalidate
//	api/                    — admin HTTP/WebSocket server: snapshot, control, overrides
//
// How it makes money:
//
//	The reference bookmaker's prices carry a margin. Offering exactly those
//	prices to exchange users means every matched wager is, in expectation,
//	on the right side of that margin. Both sides of a market are posted at
//	stakes sized so the books balance whichever outcome lands, and a market
//	is only posted when the commission-adjusted prices still sum to an edge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchange-mm/internal/api"
	"exchange-mm/internal/config"
	"exchange-mm/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("XMM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng := engine.New(cfg, logger)

	// Start admin API server if enabled
	var apiServer *api.Server
	if cfg.Admin.Enabled {
		apiServer = api.NewServer(cfg.Admin, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("admin server failed", "error", err)
			}
		}()
		logger.Info("admin server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Admin.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real wagers will be placed")
	}

	logger.Info("odds replication bot started",
		"sport", cfg.Reference.Sport,
		"bookmaker", cfg.Reference.Bookmaker,
		"markets", cfg.Reference.Markets,
		"poll_interval", cfg.PollInterval(),
		"dry_run", cfg.DryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop the admin server first, then the cycle loop
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop admin server", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	eng.Shutdown(shutdownCtx)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
