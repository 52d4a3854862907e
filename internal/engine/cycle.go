package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"exchange-mm/internal/api"
	"exchange-mm/internal/config"
	"exchange-mm/internal/controller"
	"exchange-mm/internal/exchange"
	"exchange-mm/pkg/types"
)

// runCycle executes one full reconciliation pass. A reference-feed failure
// degrades the cycle to reconcile-only: positions are still refreshed and
// fills still detected, but no new placements are made.
func (e *Engine) runCycle(ctx context.Context) {
	now := time.Now()
	cfg := e.configCopy()

	e.stateMu.Lock()
	e.stats.Cycles++
	cycleNum := e.stats.Cycles
	e.stateMu.Unlock()

	degraded := false
	refEvents, err := e.odds.FetchSnapshot(ctx, cfg.Reference.Sport)
	if err != nil {
		e.subsystemError("odds_feed", err)
		degraded = true
	} else {
		e.clearError("odds_feed")
	}

	if !degraded {
		lines, pairings, skips, held, err := e.resolveUniverse(ctx, cfg, refEvents, now)
		if err != nil {
			e.subsystemError("exchange", err)
			degraded = true
		} else {
			e.clearError("exchange")
			e.applyUniverse(ctx, cfg, lines, pairings, skips, held)
		}
	}
	if degraded {
		e.stateMu.Lock()
		e.stats.DegradedCycles++
		e.stateMu.Unlock()
	}

	lineIDs := e.currentLineIDs()

	// Wagers open in the previous projection are verified individually
	// after the sweep: one that vanished from both has settled.
	prevOpen := e.positions.OpenRecords()

	placed, cancelled := 0, 0
	if err := e.positions.Refresh(ctx, lineIDs); err != nil {
		e.subsystemError("positions", err)
	} else {
		e.clearError("positions")
		e.verifyOpenWagers(ctx, prevOpen, now)
		actions := e.evaluateLines(cfg, lineIDs, degraded, now)
		placed, cancelled = e.submit(ctx, actions)
	}

	duration := time.Since(now)
	e.stateMu.Lock()
	e.stats.LastCycleAt = now
	e.stats.LastCycleDuration = duration
	e.stateMu.Unlock()

	e.logger.Info("cycle complete",
		"cycle", cycleNum,
		"duration", duration,
		"lines", len(lineIDs),
		"placements", placed,
		"cancels", cancelled,
		"degraded", degraded)
	e.emit(api.Event{
		Type:      "cycle",
		Timestamp: time.Now(),
		Data: api.CycleInfo{
			Cycle:      cycleNum,
			Duration:   duration,
			Lines:      len(lineIDs),
			Placements: placed,
			Cancels:    cancelled,
			Degraded:   degraded,
		},
	})
}

// resolveUniverse maps the reference snapshot onto exchange lines: discover
// exchange events, pair them, resolve each paired event's market tree, and
// price every ready market. The held set names paired events whose market
// tree could not be fetched this cycle; their lines are kept alive without
// targets rather than torn down.
func (e *Engine) resolveUniverse(ctx context.Context, cfg config.Config, refEvents []types.ReferenceEvent, now time.Time) (map[string]lineEntry, []types.EventPairing, []api.MarketSkip, map[int]bool, error) {
	tournaments, err := e.exch.ListTournaments(ctx, cfg.Reference.Sport)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var (
		candMu     sync.Mutex
		candidates []types.ExchangeEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)
	for _, tour := range tournaments {
		g.Go(func() error {
			events, err := e.exch.ListEvents(gctx, tour.ID)
			if err != nil {
				return err
			}
			candMu.Lock()
			candidates = append(candidates, events...)
			candMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, nil, err
	}

	active := activeEvents(refEvents, now, cfg.StopMargin(), cfg.Limits.MaxEventsTracked)

	type pairedEvent struct {
		ref     types.ReferenceEvent
		pairing types.EventPairing
	}
	var (
		pairings []types.EventPairing
		paired   []pairedEvent
	)
	for _, ref := range active {
		pairing, noMatch := e.events.Resolve(ref, candidates, now)
		if noMatch != nil {
			e.logger.Debug("event not paired",
				"reference_event", ref.ID,
				"reason", noMatch.Reason,
				"best_score", noMatch.BestScore)
			continue
		}
		pairings = append(pairings, pairing)
		paired = append(paired, pairedEvent{ref: ref, pairing: pairing})
		e.emit(api.Event{
			Type:      "pairing",
			Timestamp: now,
			Data: api.PairingInfo{
				ReferenceEventID: pairing.ReferenceEventID,
				ExchangeEventID:  pairing.ExchangeEventID,
				Confidence:       pairing.Confidence,
				ManualOverride:   pairing.ManualOverride,
			},
		})
	}

	var (
		mu    sync.Mutex
		lines = make(map[string]lineEntry)
		skips []api.MarketSkip
		held  = make(map[int]bool)
	)
	pricer := e.currentPricer()
	kinds := cfg.ReferenceKinds()

	g2, g2ctx := errgroup.WithContext(ctx)
	g2.SetLimit(maxFanOut)
	for _, pe := range paired {
		g2.Go(func() error {
			tree, err := e.exch.GetMarkets(g2ctx, pe.pairing.ExchangeEventID)
			if err != nil {
				// One event's tree failing should not sink the cycle, and
				// its existing lines keep their state until it recovers.
				e.logger.Warn("market tree fetch failed",
					"exchange_event", pe.pairing.ExchangeEventID, "error", err)
				mu.Lock()
				held[pe.pairing.ExchangeEventID] = true
				mu.Unlock()
				return nil
			}

			for _, rm := range e.markets.ResolveLines(pe.ref, *tree, kinds) {
				if !rm.Ready {
					continue
				}
				pair, skip := pricer.BuildTargets(rm.Kind, rm.Mappings)
				if skip != "" {
					mu.Lock()
					skips = append(skips, api.MarketSkip{
						EventID: pe.pairing.ExchangeEventID,
						Kind:    rm.Kind,
						Reason:  string(skip),
					})
					mu.Unlock()
					continue
				}
				mu.Lock()
				for _, target := range pair.Targets() {
					lines[target.Line.LineID] = lineEntry{
						ref:     target.Line,
						eventID: pe.pairing.ExchangeEventID,
						target:  &target,
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g2.Wait()

	return lines, pairings, skips, held, nil
}

// activeEvents filters to events still outside the stop margin and caps the
// tracked set, nearest commence time first. An event exactly at the margin
// is excluded.
func activeEvents(refEvents []types.ReferenceEvent, now time.Time, stopMargin time.Duration, maxTracked int) []types.ReferenceEvent {
	var active []types.ReferenceEvent
	for _, ev := range refEvents {
		if ev.CommenceTime.Sub(now) > stopMargin {
			active = append(active, ev)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CommenceTime.Before(active[j].CommenceTime)
	})
	if maxTracked > 0 && len(active) > maxTracked {
		active = active[:maxTracked]
	}
	return active
}

// applyUniverse publishes the cycle's resolved line set, reconciles the
// controller's states, and optionally cancels wagers on departed lines.
//
// A line missing from the new map is not necessarily gone: when its event's
// tree fetch failed this cycle, or its market was merely skipped by pricing,
// the previous entry is carried forward with a nil target so the controller
// holds its state (cool-down, dedup window, fill baseline) instead of
// restarting from Idle. Real removal is reserved for lines whose event left
// the active set or whose outcome no longer maps.
func (e *Engine) applyUniverse(ctx context.Context, cfg config.Config, lines map[string]lineEntry, pairings []types.EventPairing, skips []api.MarketSkip, held map[int]bool) {
	skipped := make(map[int]map[types.MarketKind]bool, len(skips))
	for _, sk := range skips {
		if skipped[sk.EventID] == nil {
			skipped[sk.EventID] = make(map[types.MarketKind]bool)
		}
		skipped[sk.EventID][sk.Kind] = true
	}

	e.stateMu.Lock()
	var departed []string
	for id, prev := range e.lines {
		if _, ok := lines[id]; ok {
			continue
		}
		if held[prev.eventID] || skipped[prev.eventID][prev.ref.Kind] {
			lines[id] = lineEntry{ref: prev.ref, eventID: prev.eventID}
			continue
		}
		departed = append(departed, id)
	}
	e.pairings = pairings
	e.lines = lines
	e.skips = skips
	e.stateMu.Unlock()

	lineIDs := make([]string, 0, len(lines))
	for id := range lines {
		lineIDs = append(lineIDs, id)
	}
	e.ctrl.SyncLines(lineIDs)

	if cfg.Replicate.CancelOnStop && len(departed) > 0 {
		e.stateMu.Lock()
		e.stats.CancelsAttempted++
		e.stateMu.Unlock()
		if err := e.exch.CancelWagersForLines(ctx, departed); err != nil {
			e.logger.Error("cancel on stop failed", "lines", len(departed), "error", err)
			e.stateMu.Lock()
			e.stats.CancelsFailed++
			e.stateMu.Unlock()
		} else {
			e.logger.Info("cancelled wagers on departed lines", "lines", len(departed))
			e.stateMu.Lock()
			e.stats.CancelsSucceeded++
			e.stateMu.Unlock()
		}
	}
}

func (e *Engine) currentLineIDs() []string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	ids := make([]string, 0, len(e.lines))
	for id := range e.lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// verifyOpenWagers looks up previously-open wagers individually. A 404
// means the record matured and cleared, so it is inferred matched in full.
// A 429 aborts the remaining lookups for this cycle.
func (e *Engine) verifyOpenWagers(ctx context.Context, prevOpen []types.WagerRecord, now time.Time) {
	var stop atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)

	for _, rec := range prevOpen {
		if rec.ID == "" || strings.HasPrefix(rec.ID, "dry-run-") {
			continue
		}
		g.Go(func() error {
			if stop.Load() {
				return nil
			}
			_, err := e.exch.GetWager(gctx, rec.ID)
			switch {
			case err == nil:
			case errors.Is(err, exchange.ErrNotFound):
				e.positions.InferSettled(rec, now)
				e.stateMu.Lock()
				e.stats.InferredSettlements++
				e.stateMu.Unlock()
				e.emit(api.Event{
					Type:      "settlement",
					Timestamp: now,
					LineID:    rec.LineID,
					Data: map[string]string{
						"wager_id": rec.ID,
						"stake":    rec.Stake.String(),
					},
				})
			case errors.Is(err, exchange.ErrRateLimited):
				e.logger.Warn("wager verification rate limited, pausing for cycle",
					"retry_after", exchange.RetryAfter(err))
				stop.Store(true)
			default:
				e.logger.Debug("wager lookup failed", "wager_id", rec.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// evaluateLines runs every tracked line through the controller and applies
// the exposure caps to the resulting placements. In a degraded cycle lines
// are evaluated without targets, so fills are still detected but nothing is
// placed.
func (e *Engine) evaluateLines(cfg config.Config, lineIDs []string, degraded bool, now time.Time) []controller.Action {
	e.stateMu.RLock()
	entries := make(map[string]lineEntry, len(e.lines))
	for id, entry := range e.lines {
		entries[id] = entry
	}
	e.stateMu.RUnlock()

	// Exposure bases from current positions.
	summaries := e.positions.Summaries(lineIDs)
	eventExposure := make(map[int]decimal.Decimal)
	totalExposure := decimal.Zero
	for _, id := range lineIDs {
		pos := summaries[id]
		if entry, ok := entries[id]; ok {
			eventExposure[entry.eventID] = eventExposure[entry.eventID].Add(pos.TotalStake)
		}
		totalExposure = totalExposure.Add(pos.TotalStake)
	}

	perEventCap := decimal.NewFromFloat(cfg.Limits.MaxExposurePerEvent)
	totalCap := decimal.NewFromFloat(cfg.Limits.MaxExposureTotal)

	var actions []controller.Action
	for _, id := range lineIDs {
		entry, ok := entries[id]
		if !ok {
			continue
		}
		var target *types.PricingTarget
		if !degraded {
			target = entry.target
		}

		for _, a := range e.ctrl.Evaluate(id, summaries[id], target, now) {
			if a.Type == controller.ActionPlace {
				if perEventCap.IsPositive() && eventExposure[entry.eventID].Add(a.Stake).GreaterThan(perEventCap) {
					e.guardedPlacement(id, "per-event exposure cap")
					continue
				}
				if totalCap.IsPositive() && totalExposure.Add(a.Stake).GreaterThan(totalCap) {
					e.guardedPlacement(id, "total exposure cap")
					continue
				}
				eventExposure[entry.eventID] = eventExposure[entry.eventID].Add(a.Stake)
				totalExposure = totalExposure.Add(a.Stake)
			}
			actions = append(actions, a)
		}
	}
	return actions
}

func (e *Engine) guardedPlacement(lineID, reason string) {
	e.logger.Warn("placement blocked", "line_id", lineID, "reason", reason)
	e.stateMu.Lock()
	e.stats.PlacementsGuarded++
	e.stateMu.Unlock()
}

// submit sends the cycle's actions to the exchange with bounded concurrency.
// Placements are fire-and-forget: failures are counted and logged, and the
// next cycle observes reality through the position store.
func (e *Engine) submit(ctx context.Context, actions []controller.Action) (placed, cancelled int) {
	var placedN, cancelledN atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)

	for _, a := range actions {
		g.Go(func() error {
			switch a.Type {
			case controller.ActionPlace:
				e.stateMu.Lock()
				e.stats.PlacementsAttempted++
				e.stateMu.Unlock()

				rec, err := e.exch.PlaceWager(gctx, exchange.PlaceWagerRequest{
					ExternalID: a.ExternalID,
					LineID:     a.LineID,
					Odds:       a.Odds,
					Stake:      a.Stake,
				})
				info := api.PlacementInfo{
					LineID:     a.LineID,
					ExternalID: a.ExternalID,
					Odds:       a.Odds,
					Stake:      a.Stake,
				}
				if err != nil {
					e.logger.Error("placement failed",
						"line_id", a.LineID, "external_id", a.ExternalID, "error", err)
					info.Error = err.Error()
					e.stateMu.Lock()
					e.stats.PlacementsFailed++
					e.stats.LastErrors["submission"] = err.Error()
					e.stateMu.Unlock()
				} else {
					placedN.Add(1)
					e.stateMu.Lock()
					e.stats.PlacementsSucceeded++
					e.stateMu.Unlock()
					e.logger.Debug("placement submitted",
						"line_id", a.LineID, "wager_id", rec.ID)
				}
				e.emit(api.Event{Type: "placement", Timestamp: time.Now(), LineID: a.LineID, Data: info})

			case controller.ActionCancel:
				e.stateMu.Lock()
				e.stats.CancelsAttempted++
				e.stateMu.Unlock()

				if err := e.exch.CancelWagersForLines(gctx, []string{a.LineID}); err != nil {
					e.logger.Error("cancel failed", "line_id", a.LineID, "error", err)
					e.stateMu.Lock()
					e.stats.CancelsFailed++
					e.stats.LastErrors["submission"] = err.Error()
					e.stateMu.Unlock()
				} else {
					cancelledN.Add(1)
					e.stateMu.Lock()
					e.stats.CancelsSucceeded++
					e.stateMu.Unlock()
				}
				e.emit(api.Event{Type: "cancel", Timestamp: time.Now(), LineID: a.LineID})
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(placedN.Load()), int(cancelledN.Load())
}
