package api

import (
	"time"

	"github.com/shopspring/decimal"

	"exchange-mm/internal/controller"
	"exchange-mm/internal/oddsfeed"
	"exchange-mm/pkg/types"
)

// Stats are the per-cycle counters the engine maintains.
type Stats struct {
	Cycles              uint64 `json:"cycles"`
	DegradedCycles      uint64 `json:"degraded_cycles"`
	PlacementsAttempted uint64 `json:"placements_attempted"`
	PlacementsSucceeded uint64 `json:"placements_succeeded"`
	PlacementsFailed    uint64 `json:"placements_failed"`
	PlacementsGuarded   uint64 `json:"placements_guarded"` // blocked by exposure caps
	CancelsAttempted    uint64 `json:"cancels_attempted"`
	CancelsSucceeded    uint64 `json:"cancels_succeeded"`
	CancelsFailed       uint64 `json:"cancels_failed"`
	InferredSettlements uint64 `json:"inferred_settlements"`

	LinesByPhase map[string]int `json:"lines_by_phase"`

	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`

	// LastErrors holds the most recent error per subsystem (odds_feed,
	// exchange, positions, submission), cleared when the subsystem recovers.
	LastErrors map[string]string `json:"last_errors"`
}

// LineView is one tracked line in the snapshot: its resolved reference,
// the current pricing target, controller state, and position summary.
type LineView struct {
	Line     types.LineRef        `json:"line"`
	EventID  int                  `json:"exchange_event_id"`
	Target   *types.PricingTarget `json:"target,omitempty"`
	State    controller.LineState `json:"state"`
	Position types.LinePosition   `json:"position"`
}

// MarketSkip reports why pricing skipped a resolved market this cycle.
type MarketSkip struct {
	EventID int              `json:"exchange_event_id"`
	Kind    types.MarketKind `json:"market_kind"`
	Reason  string           `json:"reason"`
}

// ConfigSummary is the non-sensitive slice of the running configuration.
type ConfigSummary struct {
	Sport                    string   `json:"sport"`
	Bookmaker                string   `json:"bookmaker"`
	Markets                  []string `json:"markets"`
	PollIntervalSeconds      int      `json:"poll_interval_seconds"`
	SignificantMoveThreshold int      `json:"significant_move_threshold"`
	CoolDownSeconds          int      `json:"cool_down_seconds"`
	StopMarginMinutes        int      `json:"stop_margin_minutes"`
	CancelOnStop             bool     `json:"cancel_on_stop"`
	BasePlusStake            float64  `json:"base_plus_stake"`
	CommissionRate           float64  `json:"commission_rate"`
	DryRun                   bool     `json:"dry_run"`
	Sandbox                  bool     `json:"sandbox"`
}

// Snapshot is the full admin view of the bot, assembled by the engine.
type Snapshot struct {
	Running   bool                 `json:"scheduler_running"`
	Pairings  []types.EventPairing `json:"pairings"`
	Lines     []LineView           `json:"lines"`
	Skips     []MarketSkip         `json:"skips,omitempty"`
	Stats     Stats                `json:"stats"`
	Credits   oddsfeed.Credits     `json:"odds_feed_credits"`
	Config    ConfigSummary        `json:"config"`
	Timestamp time.Time            `json:"timestamp"`
}

// SettingsUpdate carries the runtime-adjustable knobs. Nil fields are left
// unchanged.
type SettingsUpdate struct {
	PollIntervalSeconds *int     `json:"poll_interval_seconds,omitempty"`
	BasePlusStake       *float64 `json:"base_plus_stake,omitempty"`
	CoolDownSeconds     *int     `json:"cool_down_seconds,omitempty"`
}

// BotController is the engine surface the admin server consumes. The server
// is read-mostly: nothing here places or cancels wagers directly.
type BotController interface {
	Snapshot() Snapshot
	Events() <-chan Event

	SchedulerRunning() bool
	StartScheduler()
	StopScheduler()

	SetOverride(refEventID string, exchangeEventID int)
	RemoveOverride(refEventID string)
	Overrides() map[string]int

	UpdateSettings(s SettingsUpdate) error
}

// PlacementInfo is the payload of placement events on the stream.
type PlacementInfo struct {
	LineID     string          `json:"line_id"`
	ExternalID string          `json:"external_id"`
	Odds       int             `json:"odds"`
	Stake      decimal.Decimal `json:"stake"`
	Error      string          `json:"error,omitempty"`
}
