// Package engine is the central orchestrator of the replication bot.
//
// It owns the cycle clock. Every poll interval it: fetches the reference
// snapshot, pairs reference events with exchange events, resolves market
// outcomes onto betting lines, prices each ready market, refreshes per-line
// positions from the exchange's wager histories, runs every line through the
// controller's state machine, and submits the resulting placements and
// cancels with bounded concurrency.
//
// All other components are invoked from the cycle and hold no background
// work of their own, except the exchange auth-refresh timer.
//
// Lifecycle: New() → Run(ctx) → [runs until ctx cancelled]
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"exchange-mm/internal/api"
	"exchange-mm/internal/config"
	"exchange-mm/internal/controller"
	"exchange-mm/internal/exchange"
	"exchange-mm/internal/oddsfeed"
	"exchange-mm/internal/position"
	"exchange-mm/internal/pricing"
	"exchange-mm/internal/resolve"
	"exchange-mm/pkg/types"
)

const (
	// minCycleSlack is the shortest pause between cycles when a cycle
	// overruns the poll interval.
	minCycleSlack = 5 * time.Second

	// maxFanOut bounds concurrent exchange requests during discovery and
	// submission.
	maxFanOut = 10
)

// oddsSource is the slice of the odds feed client the engine needs.
type oddsSource interface {
	FetchSnapshot(ctx context.Context, sport string) ([]types.ReferenceEvent, error)
	Credits() oddsfeed.Credits
}

// exchangeAPI is the slice of the exchange client the engine needs.
type exchangeAPI interface {
	ListTournaments(ctx context.Context, sport string) ([]types.Tournament, error)
	ListEvents(ctx context.Context, tournamentID int) ([]types.ExchangeEvent, error)
	GetMarkets(ctx context.Context, eventID int) (*types.MarketTree, error)
	PlaceWager(ctx context.Context, wr exchange.PlaceWagerRequest) (*types.WagerRecord, error)
	CancelWager(ctx context.Context, wagerID string) error
	CancelWagersForLines(ctx context.Context, lineIDs []string) error
	GetWager(ctx context.Context, wagerID string) (*types.WagerRecord, error)
	WagerHistories(ctx context.Context, filter exchange.HistoryFilter) ([]types.WagerRecord, error)
}

// lineEntry is the engine's per-line view for the current cycle.
type lineEntry struct {
	ref     types.LineRef
	eventID int
	target  *types.PricingTarget
}

// Engine orchestrates every component of the replication system.
type Engine struct {
	odds      oddsSource
	exch      exchangeAPI
	events    *resolve.EventResolver
	markets   *resolve.MarketResolver
	positions *position.Store
	ctrl      *controller.Controller
	logger    *slog.Logger

	// authRefresh runs the exchange token keep-alive; nil in tests.
	authRefresh func(ctx context.Context)

	// cfgMu guards cfg and pricer, which UpdateSettings can swap at runtime.
	cfgMu  sync.RWMutex
	cfg    config.Config
	pricer *pricing.Engine

	// stateMu guards everything the cycle publishes for the admin surface.
	stateMu  sync.RWMutex
	running  bool
	pairings []types.EventPairing
	lines    map[string]lineEntry
	skips    []api.MarketSkip
	stats    api.Stats

	eventCh chan api.Event
}

// New creates and wires all engine components from config.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	client := exchange.NewClient(cfg.Exchange, cfg.DryRun, logger)
	feed := oddsfeed.NewClient(cfg.Reference, logger)

	e := newWith(
		*cfg,
		feed,
		client,
		position.NewStore(client, logger),
		logger,
	)
	e.authRefresh = client.Auth().RunRefresh
	return e
}

// newWith wires an engine around explicit dependencies. Tests use it with
// fakes.
func newWith(cfg config.Config, odds oddsSource, exch exchangeAPI, store *position.Store, logger *slog.Logger) *Engine {
	return &Engine{
		odds:      odds,
		exch:      exch,
		events:    resolve.NewEventResolver(cfg.Resolver.ConfidenceThreshold, cfg.TimeTolerance(), logger),
		markets:   resolve.NewMarketResolver(logger),
		positions: store,
		ctrl:      controller.New(cfg.Replicate, logger),
		logger:    logger.With("component", "engine"),
		cfg:       cfg,
		pricer:    pricing.NewEngine(cfg.Sizing),
		running:   true,
		lines:     make(map[string]lineEntry),
		stats: api.Stats{
			LinesByPhase: make(map[string]int),
			LastErrors:   make(map[string]string),
		},
		eventCh: make(chan api.Event, 100),
	}
}

// Run drives the cycle loop until ctx is cancelled. An overrunning cycle
// triggers the next one after a short slack rather than a full interval.
func (e *Engine) Run(ctx context.Context) {
	if e.authRefresh != nil {
		go e.authRefresh(ctx)
	}

	e.logger.Info("engine started", "poll_interval", e.pollInterval())
	for {
		wait := time.Second
		if e.SchedulerRunning() {
			start := time.Now()
			e.runCycle(ctx)
			wait = e.pollInterval() - time.Since(start)
			if wait < minCycleSlack {
				wait = minCycleSlack
			}
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return
		case <-time.After(wait):
		}
	}
}

// SchedulerRunning reports whether cycles are being executed.
func (e *Engine) SchedulerRunning() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.running
}

// StartScheduler resumes cycle execution.
func (e *Engine) StartScheduler() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !e.running {
		e.running = true
		e.logger.Info("scheduler started")
	}
}

// StopScheduler pauses cycle execution. Open wagers are left to the
// exchange's own lifecycle.
func (e *Engine) StopScheduler() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.running {
		e.running = false
		e.logger.Info("scheduler stopped")
	}
}

// SetOverride forces a pairing for a reference event.
func (e *Engine) SetOverride(refEventID string, exchangeEventID int) {
	e.events.SetOverride(refEventID, exchangeEventID)
	e.logger.Info("manual override set",
		"reference_event", refEventID, "exchange_event", exchangeEventID)
}

// RemoveOverride deletes a manual pairing override.
func (e *Engine) RemoveOverride(refEventID string) {
	e.events.RemoveOverride(refEventID)
	e.logger.Info("manual override removed", "reference_event", refEventID)
}

// Overrides returns the current manual override map.
func (e *Engine) Overrides() map[string]int {
	return e.events.Overrides()
}

// UpdateSettings applies runtime configuration changes: poll interval, base
// plus stake, and cool-down.
func (e *Engine) UpdateSettings(s api.SettingsUpdate) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if s.PollIntervalSeconds != nil {
		if *s.PollIntervalSeconds < 60 {
			return fmt.Errorf("poll interval must be at least 60 seconds")
		}
		e.cfg.Replicate.PollIntervalSeconds = *s.PollIntervalSeconds
	}
	if s.BasePlusStake != nil {
		if *s.BasePlusStake <= 0 {
			return fmt.Errorf("base plus stake must be positive")
		}
		e.cfg.Sizing.BasePlusStake = *s.BasePlusStake
		e.pricer = pricing.NewEngine(e.cfg.Sizing)
	}
	if s.CoolDownSeconds != nil {
		if *s.CoolDownSeconds < 0 {
			return fmt.Errorf("cool-down cannot be negative")
		}
		e.cfg.Replicate.CoolDownSeconds = *s.CoolDownSeconds
		e.ctrl.SetCoolDown(time.Duration(*s.CoolDownSeconds) * time.Second)
	}

	e.logger.Info("settings updated",
		"poll_interval_seconds", e.cfg.Replicate.PollIntervalSeconds,
		"base_plus_stake", e.cfg.Sizing.BasePlusStake,
		"cool_down_seconds", e.cfg.Replicate.CoolDownSeconds)
	return nil
}

// Shutdown runs the cancel-on-stop safety net: when configured, every line
// still tracked has its open wagers cancelled before the process exits.
func (e *Engine) Shutdown(ctx context.Context) {
	cfg := e.configCopy()
	if !cfg.Replicate.CancelOnStop {
		return
	}
	lineIDs := e.currentLineIDs()
	if len(lineIDs) == 0 {
		return
	}
	if err := e.exch.CancelWagersForLines(ctx, lineIDs); err != nil {
		e.logger.Error("shutdown cancel failed", "lines", len(lineIDs), "error", err)
		return
	}
	e.logger.Info("cancelled open wagers on shutdown", "lines", len(lineIDs))
}

// Events returns the admin event stream.
func (e *Engine) Events() <-chan api.Event {
	return e.eventCh
}

// Snapshot assembles the full admin view.
func (e *Engine) Snapshot() api.Snapshot {
	cfg := e.configCopy()

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	states := e.ctrl.States()
	lines := make([]api.LineView, 0, len(e.lines))
	for id, entry := range e.lines {
		lines = append(lines, api.LineView{
			Line:     entry.ref,
			EventID:  entry.eventID,
			Target:   entry.target,
			State:    states[id],
			Position: e.positions.Summary(id),
		})
	}

	stats := e.stats
	stats.LinesByPhase = make(map[string]int, len(stats.LinesByPhase))
	for _, st := range states {
		stats.LinesByPhase[string(st.Phase)]++
	}
	stats.LastErrors = make(map[string]string, len(e.stats.LastErrors))
	for k, v := range e.stats.LastErrors {
		stats.LastErrors[k] = v
	}

	return api.Snapshot{
		Running:   e.running,
		Pairings:  append([]types.EventPairing(nil), e.pairings...),
		Lines:     lines,
		Skips:     append([]api.MarketSkip(nil), e.skips...),
		Stats:     stats,
		Credits:   e.odds.Credits(),
		Timestamp: time.Now(),
		Config: api.ConfigSummary{
			Sport:                    cfg.Reference.Sport,
			Bookmaker:                cfg.Reference.Bookmaker,
			Markets:                  cfg.Reference.Markets,
			PollIntervalSeconds:      cfg.Replicate.PollIntervalSeconds,
			SignificantMoveThreshold: cfg.Replicate.SignificantMoveThreshold,
			CoolDownSeconds:          cfg.Replicate.CoolDownSeconds,
			StopMarginMinutes:        cfg.Replicate.StopMarginMinutes,
			CancelOnStop:             cfg.Replicate.CancelOnStop,
			BasePlusStake:            cfg.Sizing.BasePlusStake,
			CommissionRate:           cfg.Sizing.CommissionRate,
			DryRun:                   cfg.DryRun,
			Sandbox:                  cfg.Exchange.Sandbox,
		},
	}
}

func (e *Engine) configCopy() config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

func (e *Engine) currentPricer() *pricing.Engine {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.pricer
}

func (e *Engine) pollInterval() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return time.Duration(e.cfg.Replicate.PollIntervalSeconds) * time.Second
}

// subsystemError records the latest failure of one subsystem.
func (e *Engine) subsystemError(subsystem string, err error) {
	e.logger.Error(subsystem+" error", "error", err)
	e.stateMu.Lock()
	e.stats.LastErrors[subsystem] = err.Error()
	e.stateMu.Unlock()
	e.emit(api.Event{
		Type:      "error",
		Timestamp: time.Now(),
		Data:      map[string]string{"subsystem": subsystem, "error": err.Error()},
	})
}

// clearError marks a subsystem recovered.
func (e *Engine) clearError(subsystem string) {
	e.stateMu.Lock()
	delete(e.stats.LastErrors, subsystem)
	e.stateMu.Unlock()
}

// emit pushes an event to the admin stream, dropping it if no one keeps up.
func (e *Engine) emit(evt api.Event) {
	select {
	case e.eventCh <- evt:
	default:
	}
}
