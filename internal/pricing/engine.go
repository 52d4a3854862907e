// Package pricing implements the odds-replication math: hedge odds,
// commission adjustment, snapping to the exchange's allowed-odds ladder,
// and arbitrage stake sizing.
//
// Everything here is pure and deterministic. Invalid inputs never produce
// errors — the pipeline returns a skip reason instead, and the affected
// market is simply left alone for the cycle.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"exchange-mm/internal/config"
)

// SkipReason explains why a market produced no pricing targets this cycle.
type SkipReason string

const (
	SkipNone                 SkipReason = ""
	SkipFewerThanTwoOutcomes SkipReason = "fewer_than_two_outcomes"
	SkipMissingLineID        SkipReason = "missing_line_id"
	SkipBothSameSign         SkipReason = "both_same_sign"
	SkipUnprofitable         SkipReason = "unprofitable"
)

// Engine holds the sizing parameters. Construct once from config.
type Engine struct {
	commission float64         // exchange commission on net winnings
	basePlus   decimal.Decimal // B: stake posted on the plus side
	hardMax    decimal.Decimal // hard cap on plus-side total position
	multiplier decimal.Decimal // k: position cap as a multiple of the increment
	ladder     *Ladder
}

// NewEngine builds a pricing engine from the sizing config.
func NewEngine(cfg config.SizingConfig) *Engine {
	return &Engine{
		commission: cfg.CommissionRate,
		basePlus:   decimal.NewFromFloat(cfg.BasePlusStake),
		hardMax:    decimal.NewFromFloat(cfg.HardMaxPlus),
		multiplier: decimal.NewFromFloat(cfg.PositionMultiplier),
		ladder:     NewLadder(),
	}
}

// Ladder exposes the allowed-odds ladder.
func (e *Engine) Ladder() *Ladder { return e.ladder }

// HedgeOdds returns the equal-and-opposite side of a reference price.
// Posting the hedge is what offers the reference price to exchange users.
func HedgeOdds(refAmerican int) int { return -refAmerican }

// EffectiveOdds adjusts American odds for commission on net winnings.
// A positive-odds winner pays less after commission; a negative-odds winner
// must risk proportionally more to reach the same net.
func EffectiveOdds(american int, commission float64) float64 {
	if american > 0 {
		return float64(american) * (1 - commission)
	}
	return float64(american) / (1 - commission)
}

// Sizing is the arbitrage stake computation for one two-outcome market.
// PlusStake/MinusStake are the stakes to post on each side; the minus stake
// is sized so its risk matches the plus side's winnings.
type Sizing struct {
	PlusStake        decimal.Decimal
	PlusWin          decimal.Decimal
	MinusStake       decimal.Decimal
	TotalInvestment  decimal.Decimal
	GuaranteedProfit decimal.Decimal
	Profitable       bool
}

// ArbitrageSizing computes both stakes from the post-commission effective
// odds of the two sides. effPlus must be positive, effMinus negative.
//
// The guaranteed profit is evaluated on a payout-equalized hedge: the gross
// return of the plus side (stake + winnings) against the total investment
// needed to cover the minus side to the same payout. The market is
// profitable exactly when the implied probabilities of the two effective
// prices sum below one.
func (e *Engine) ArbitrageSizing(effPlus, effMinus float64) Sizing {
	plusStake := e.basePlus
	plusWin := plusStake.Mul(decimal.NewFromFloat(effPlus / 100))

	absMinus := math.Abs(effMinus)
	minusStake := plusWin.Div(decimal.NewFromFloat(absMinus / 100))
	total := plusStake.Add(minusStake)

	grossReturn := plusStake.Add(plusWin)
	equalizedMinus := grossReturn.Mul(decimal.NewFromFloat(absMinus / (100 + absMinus)))
	profit := grossReturn.Sub(plusStake).Sub(equalizedMinus)

	return Sizing{
		PlusStake:        plusStake,
		PlusWin:          plusWin,
		MinusStake:       minusStake,
		TotalInvestment:  total,
		GuaranteedProfit: profit,
		Profitable:       profit.IsPositive(),
	}
}

// PositionLimits returns the per-side position caps and top-up increments.
// The plus side is capped at min(hard cap, B·k); the minus side scales with
// its own stake.
func (e *Engine) PositionLimits(s Sizing) (maxPlus, maxMinus, incPlus, incMinus decimal.Decimal) {
	maxPlus = e.basePlus.Mul(e.multiplier)
	if maxPlus.GreaterThan(e.hardMax) {
		maxPlus = e.hardMax
	}
	maxMinus = s.MinusStake.Mul(e.multiplier)
	return maxPlus, maxMinus, e.basePlus, s.MinusStake
}
