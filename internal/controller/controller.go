// Package controller implements the per-line state machine that decides when
// to place, top up, wait, and invalidate wagers.
//
// Each tracked line carries a LineState moving through four phases:
//
//	Idle             no wagers observed yet
//	Active           an open unmatched wager sits at the intended odds
//	WaitingAfterFill a fill occurred recently; the cool-down is running
//	Invalidated      reference odds moved; existing wagers must be replaced
//
// The controller emits Actions (place/cancel) and never talks to the
// exchange itself. Placements are fire-and-forget within a cycle; the next
// cycle observes the outcome through the position store.
package controller

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange-mm/internal/config"
	"exchange-mm/pkg/types"
)

// dedupGuard is the minimum gap between two placements on one line.
const dedupGuard = 2 * time.Minute

// Phase is the lifecycle phase of one line.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseActive           Phase = "active"
	PhaseWaitingAfterFill Phase = "waiting_after_fill"
	PhaseInvalidated      Phase = "invalidated"
)

// ActionType discriminates the controller's outputs.
type ActionType string

const (
	ActionPlace  ActionType = "place"
	ActionCancel ActionType = "cancel"
)

// Action is one instruction for the submission layer.
type Action struct {
	Type       ActionType
	LineID     string
	ExternalID string          // place only
	Odds       int             // place only
	Stake      decimal.Decimal // place only
}

// LineState is the controller's memory for one line. It exists only while
// the line is present in the resolved line map.
type LineState struct {
	Phase          Phase           `json:"phase"`
	CoolDownUntil  time.Time       `json:"cool_down_until,omitzero"`
	LastPlacedOdds int             `json:"last_placed_odds,omitempty"`
	LastPlacement  time.Time       `json:"last_placement,omitzero"`
	LastMatched    decimal.Decimal `json:"last_matched"`
	seenMatched    bool            // false until the first evaluation records a baseline
}

// Controller evaluates every tracked line once per cycle.
type Controller struct {
	coolDown      time.Duration
	moveThreshold int
	logger        *slog.Logger

	mu     sync.RWMutex
	states map[string]*LineState
}

// New creates a controller from the replication config.
func New(cfg config.ReplicateConfig, logger *slog.Logger) *Controller {
	return &Controller{
		coolDown:      time.Duration(cfg.CoolDownSeconds) * time.Second,
		moveThreshold: cfg.SignificantMoveThreshold,
		logger:        logger.With("component", "line-controller"),
		states:        make(map[string]*LineState),
	}
}

// SetCoolDown changes the post-fill cool-down at runtime. Lines already
// waiting keep their current deadline.
func (c *Controller) SetCoolDown(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coolDown = d
}

// CoolDown returns the configured post-fill cool-down.
func (c *Controller) CoolDown() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coolDown
}

// SyncLines reconciles the state map with the cycle's resolved line set:
// new lines start Idle, dropped lines lose their state entirely.
func (c *Controller) SyncLines(lineIDs []string) {
	keep := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		keep[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.states {
		if !keep[id] {
			delete(c.states, id)
		}
	}
	for _, id := range lineIDs {
		if _, ok := c.states[id]; !ok {
			c.states[id] = &LineState{Phase: PhaseIdle}
		}
	}
}

// States returns a snapshot of every line's state.
func (c *Controller) States() map[string]LineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]LineState, len(c.states))
	for id, st := range c.states {
		out[id] = *st
	}
	return out
}

// Evaluate runs one line through the state machine and returns the actions
// to submit. target is nil when pricing skipped the line's market this
// cycle; the line then holds its phase with no new placements.
func (c *Controller) Evaluate(lineID string, pos types.LinePosition, target *types.PricingTarget, now time.Time) []Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[lineID]
	if !ok {
		return nil
	}

	// Fill detection: any positive delta in total matched since the last
	// cycle. The first evaluation only records the baseline, so a position
	// inherited from a previous run does not read as a fresh fill.
	fillDetected := false
	if st.seenMatched && pos.TotalMatched.GreaterThan(st.LastMatched) {
		fillDetected = true
	}
	st.LastMatched = pos.TotalMatched
	st.seenMatched = true

	if target == nil {
		return nil
	}

	var actions []Action
	switch st.Phase {
	case PhaseIdle:
		actions = c.placeInitial(st, lineID, pos, *target, now)

	case PhaseActive:
		switch {
		case c.oddsMoved(st, *target):
			actions = c.invalidate(st, lineID, *target)
		case fillDetected:
			c.startCoolDown(st, lineID, pos, now)
		default:
			actions = c.topUp(st, lineID, pos, *target, now)
		}

	case PhaseWaitingAfterFill:
		switch {
		case c.oddsMoved(st, *target):
			actions = c.invalidate(st, lineID, *target)
		case fillDetected:
			// A further fill restarts the clock.
			c.startCoolDown(st, lineID, pos, now)
		case !now.Before(st.CoolDownUntil):
			st.Phase = PhaseActive
			c.logger.Debug("cool-down elapsed", "line_id", lineID)
		}

	case PhaseInvalidated:
		actions = c.placeInitial(st, lineID, pos, *target, now)
	}

	return actions
}

// oddsMoved reports whether the target drifted a significant distance from
// what was last posted.
func (c *Controller) oddsMoved(st *LineState, target types.PricingTarget) bool {
	if st.LastPlacedOdds == 0 {
		return false
	}
	diff := target.Odds - st.LastPlacedOdds
	if diff < 0 {
		diff = -diff
	}
	return diff >= c.moveThreshold
}

// invalidate cancels the line's open wagers and clears the cool-down so the
// next cycle can repost at the new target immediately.
func (c *Controller) invalidate(st *LineState, lineID string, target types.PricingTarget) []Action {
	c.logger.Info("odds moved, invalidating line",
		"line_id", lineID,
		"last_placed", st.LastPlacedOdds,
		"target", target.Odds)
	st.Phase = PhaseInvalidated
	st.CoolDownUntil = time.Time{}
	return []Action{{Type: ActionCancel, LineID: lineID}}
}

// startCoolDown enters WaitingAfterFill. The exchange's fill timestamp wins
// over the local clock when it is newer.
func (c *Controller) startCoolDown(st *LineState, lineID string, pos types.LinePosition, now time.Time) {
	from := now
	if pos.LastFillTime.After(from) {
		from = pos.LastFillTime
	}
	st.Phase = PhaseWaitingAfterFill
	st.CoolDownUntil = from.Add(c.coolDown)
	c.logger.Info("fill detected, cooling down",
		"line_id", lineID,
		"total_matched", pos.TotalMatched,
		"until", st.CoolDownUntil)
}

// placeInitial posts the opening stake for an Idle or Invalidated line.
func (c *Controller) placeInitial(st *LineState, lineID string, pos types.LinePosition, target types.PricingTarget, now time.Time) []Action {
	stake := decimal.Min(target.TargetUnmatched, target.MaxPosition.Sub(pos.TotalStake))
	if !stake.IsPositive() {
		return nil
	}
	if !c.placementAllowed(st, pos, target, now) {
		// A live wager already covers the target; the line is effectively
		// active even though we placed nothing this cycle.
		if st.Phase == PhaseIdle && pos.HasOpenWager {
			st.Phase = PhaseActive
		}
		return nil
	}

	st.Phase = PhaseActive
	st.LastPlacedOdds = target.Odds
	st.LastPlacement = now
	return []Action{{
		Type:       ActionPlace,
		LineID:     lineID,
		ExternalID: NewExternalID(lineID, now),
		Odds:       target.Odds,
		Stake:      stake,
	}}
}

// topUp replenishes unmatched liquidity on an Active line.
func (c *Controller) topUp(st *LineState, lineID string, pos types.LinePosition, target types.PricingTarget, now time.Time) []Action {
	if pos.TotalUnmatched.GreaterThanOrEqual(target.TargetUnmatched) {
		return nil
	}
	if now.Before(st.CoolDownUntil) {
		return nil
	}
	if pos.TotalStake.GreaterThanOrEqual(target.MaxPosition) {
		return nil
	}
	if !c.placementAllowed(st, pos, target, now) {
		return nil
	}

	stake := decimal.Min(
		target.Increment,
		target.MaxPosition.Sub(pos.TotalStake),
		target.TargetUnmatched.Sub(pos.TotalUnmatched),
	)
	if !stake.IsPositive() {
		return nil
	}

	st.LastPlacedOdds = target.Odds
	st.LastPlacement = now
	c.logger.Info("topping up line",
		"line_id", lineID, "stake", stake, "odds", target.Odds)
	return []Action{{
		Type:       ActionPlace,
		LineID:     lineID,
		ExternalID: NewExternalID(lineID, now),
		Odds:       target.Odds,
		Stake:      stake,
	}}
}

// placementAllowed applies the safety guards layered on the transitions:
// the two-minute dedup window and the open-wager-at-target check.
func (c *Controller) placementAllowed(st *LineState, pos types.LinePosition, target types.PricingTarget, now time.Time) bool {
	if !st.LastPlacement.IsZero() && now.Sub(st.LastPlacement) < dedupGuard {
		return false
	}
	if pos.HasOpenWager &&
		st.LastPlacedOdds == target.Odds &&
		pos.TotalUnmatched.GreaterThanOrEqual(target.TargetUnmatched) {
		return false
	}
	return true
}
