// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — reference odds
// snapshots, exchange events and market trees, wager records, and the
// per-line pricing targets and positions that drive the controller. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// MarketKind enumerates the replicated two-outcome market types.
type MarketKind string

const (
	Moneyline MarketKind = "moneyline"
	Spread    MarketKind = "spread"
	Total     MarketKind = "total"
)

// Side identifies which half of a two-outcome market a line is, derived
// from the sign of its post-commission effective odds.
type Side string

const (
	SidePlus  Side = "plus"  // effective odds > 0
	SideMinus Side = "minus" // effective odds < 0
)

// WagerStatus is the canonical lifecycle status of a wager on the exchange.
type WagerStatus string

const (
	WagerOpen             WagerStatus = "open"
	WagerMatched          WagerStatus = "matched"
	WagerPartiallyMatched WagerStatus = "partially_matched"
	WagerCancelled        WagerStatus = "cancelled"
	WagerExpired          WagerStatus = "expired"
	WagerSettled          WagerStatus = "settled"
	WagerVoid             WagerStatus = "void"
)

// MatchingStatus describes how much of a wager has found a counterparty.
type MatchingStatus string

const (
	MatchingUnmatched MatchingStatus = "unmatched"
	MatchingPartial   MatchingStatus = "partially_matched"
	MatchingFull      MatchingStatus = "fully_matched"
)

// OpenForMatching reports whether a wager in this status can still be
// matched against incoming flow.
func (s WagerStatus) OpenForMatching() bool {
	return s == WagerOpen || s == WagerPartiallyMatched
}

// Terminal reports whether the wager will never change again.
func (s WagerStatus) Terminal() bool {
	switch s {
	case WagerCancelled, WagerExpired, WagerSettled, WagerVoid:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Reference feed
// ————————————————————————————————————————————————————————————————————————

// Outcome is one side of a reference market: a named selection with
// American odds and, for spreads/totals, a point.
type Outcome struct {
	Name         string
	AmericanOdds int
	Point        *float64
}

// ReferenceMarket is a two-outcome market quoted by the reference bookmaker.
type ReferenceMarket struct {
	Kind     MarketKind
	Outcomes []Outcome
}

// ReferenceEvent is one event from the reference feed, immutable within a
// cycle. Markets only contains the kinds the configured bookmaker quoted.
type ReferenceEvent struct {
	ID           string
	Home         string
	Away         string
	CommenceTime time.Time
	Markets      []ReferenceMarket
}

// Market returns the event's market of the given kind, or nil.
func (e *ReferenceEvent) Market(kind MarketKind) *ReferenceMarket {
	for i := range e.Markets {
		if e.Markets[i].Kind == kind {
			return &e.Markets[i]
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Exchange metadata
// ————————————————————————————————————————————————————————————————————————

// Tournament is an exchange competition grouping (e.g. "MLB").
type Tournament struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Sport    string `json:"sport"`
	Category string `json:"category"`
}

// ExchangeEvent is an event listed on the exchange.
type ExchangeEvent struct {
	ID           int       `json:"event_id"`
	Home         string    `json:"home"`
	Away         string    `json:"away"`
	CommenceTime time.Time `json:"commence_time"`
	Tournament   string    `json:"tournament"`
	Status       string    `json:"status"`
}

// MarketSelection is one bettable selection inside an exchange market.
// Odds is nil when the exchange shows no current quote on the line; the
// line is still usable for placement as long as LineID is present.
type MarketSelection struct {
	LineID string   `json:"line_id"`
	Name   string   `json:"name"`
	Odds   *int     `json:"odds"`
	Point  *float64 `json:"point"`
}

// Market is one market inside the exchange market tree.
type Market struct {
	Type       string            `json:"type"` // moneyline, spread, total, ...
	Name       string            `json:"name"`
	Selections []MarketSelection `json:"selections"`
}

// MarketCategory groups markets ("Game Lines", period markets, props...).
type MarketCategory struct {
	Name    string   `json:"name"`
	Markets []Market `json:"markets"`
}

// MarketTree is the full market structure for one exchange event.
type MarketTree struct {
	EventID    int              `json:"event_id"`
	Categories []MarketCategory `json:"categories"`
}

// ————————————————————————————————————————————————————————————————————————
// Resolution
// ————————————————————————————————————————————————————————————————————————

// EventPairing is a confirmed identification of a reference event with an
// exchange event. Replaced wholesale on each resolver refresh.
type EventPairing struct {
	ReferenceEventID string    `json:"reference_event_id"`
	ExchangeEventID  int       `json:"exchange_event_id"`
	Confidence       float64   `json:"confidence"`
	Reasons          []string  `json:"reasons"`
	ManualOverride   bool      `json:"manual_override"`
	PairedAt         time.Time `json:"paired_at"`
}

// LineRef identifies one exchange line a reference outcome maps onto.
type LineRef struct {
	LineID        string     `json:"line_id"`
	SelectionName string     `json:"selection_name"`
	Kind          MarketKind `json:"market_kind"`
	Point         *float64   `json:"point,omitempty"`
	Side          Side       `json:"side"`
}

// OutcomeMapping binds a reference outcome to a resolved exchange line.
// Point is carried only for spread/total mappings.
type OutcomeMapping struct {
	Outcome       Outcome
	LineID        string
	SelectionName string
	Point         *float64
}

// ————————————————————————————————————————————————————————————————————————
// Pricing
// ————————————————————————————————————————————————————————————————————————

// PricingTarget is what the controller should maintain on one line this
// cycle: the snapped odds to post and the stake envelope around them.
type PricingTarget struct {
	Line            LineRef         `json:"line"`
	Odds            int             `json:"odds_to_post"`
	TargetUnmatched decimal.Decimal `json:"target_unmatched_stake"`
	Increment       decimal.Decimal `json:"increment"`
	MaxPosition     decimal.Decimal `json:"max_position"`
}

// ————————————————————————————————————————————————————————————————————————
// Wagers and positions
// ————————————————————————————————————————————————————————————————————————

// WagerRecord is the canonical, read-only copy of a wager as reported by
// the exchange. It is never mutated locally — only refreshed.
type WagerRecord struct {
	ID             string          `json:"wager_id"`
	ExternalID     string          `json:"external_id"`
	LineID         string          `json:"line_id"`
	Odds           int             `json:"odds"`
	Stake          decimal.Decimal `json:"stake"`
	MatchedStake   decimal.Decimal `json:"matched_stake"`
	UnmatchedStake decimal.Decimal `json:"unmatched_stake"`
	Status         WagerStatus     `json:"status"`
	MatchingStatus MatchingStatus  `json:"matching_status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Fill is an observed match on one of our wagers.
type Fill struct {
	WagerID string          `json:"wager_id"`
	LineID  string          `json:"line_id"`
	Amount  decimal.Decimal `json:"amount"`
	At      time.Time       `json:"at"`
}

// LinePosition aggregates all WagerRecords for one line. Recomputed from
// the exchange's wager histories each cycle; the exchange is authoritative.
type LinePosition struct {
	LineID         string          `json:"line_id"`
	TotalStake     decimal.Decimal `json:"total_stake"`
	TotalMatched   decimal.Decimal `json:"total_matched"`
	TotalUnmatched decimal.Decimal `json:"total_unmatched"`
	HasOpenWager   bool            `json:"has_open_wager"`
	LastFillTime   time.Time       `json:"last_fill_time"`
	RecentFills    []Fill          `json:"recent_fills,omitempty"`
}
