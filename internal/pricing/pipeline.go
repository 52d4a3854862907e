package pricing

import (
	"exchange-mm/pkg/types"
)

// TargetPair is the output of the pipeline for one ready market: a pricing
// target for each side, plus first.
type TargetPair struct {
	Plus  types.PricingTarget
	Minus types.PricingTarget
}

// Targets returns both targets as a slice, plus first.
func (p TargetPair) Targets() []types.PricingTarget {
	return []types.PricingTarget{p.Plus, p.Minus}
}

// BuildTargets is the only place PricingTargets are created. It takes the
// two resolved outcome mappings of a market and either yields the pair of
// targets to maintain, or a reason the market is skipped this cycle.
func (e *Engine) BuildTargets(kind types.MarketKind, mappings []types.OutcomeMapping) (TargetPair, SkipReason) {
	if len(mappings) != 2 {
		return TargetPair{}, SkipFewerThanTwoOutcomes
	}
	for _, m := range mappings {
		if m.LineID == "" {
			return TargetPair{}, SkipMissingLineID
		}
	}

	eff := [2]float64{}
	for i, m := range mappings {
		eff[i] = EffectiveOdds(HedgeOdds(m.Outcome.AmericanOdds), e.commission)
	}

	// One side must come out plus, the other minus, or the market cannot
	// be bracketed.
	var plusIdx, minusIdx int
	switch {
	case eff[0] > 0 && eff[1] < 0:
		plusIdx, minusIdx = 0, 1
	case eff[0] < 0 && eff[1] > 0:
		plusIdx, minusIdx = 1, 0
	default:
		return TargetPair{}, SkipBothSameSign
	}

	sizing := e.ArbitrageSizing(eff[plusIdx], eff[minusIdx])
	if !sizing.Profitable {
		return TargetPair{}, SkipUnprofitable
	}

	maxPlus, maxMinus, incPlus, incMinus := e.PositionLimits(sizing)

	plus := mappings[plusIdx]
	minus := mappings[minusIdx]

	pair := TargetPair{
		Plus: types.PricingTarget{
			Line:            lineRef(kind, plus, types.SidePlus),
			Odds:            e.ladder.Snap(eff[plusIdx]),
			TargetUnmatched: sizing.PlusStake,
			Increment:       incPlus,
			MaxPosition:     maxPlus,
		},
		Minus: types.PricingTarget{
			Line:            lineRef(kind, minus, types.SideMinus),
			Odds:            e.ladder.Snap(eff[minusIdx]),
			TargetUnmatched: sizing.MinusStake,
			Increment:       incMinus,
			MaxPosition:     maxMinus,
		},
	}
	return pair, SkipNone
}

// lineRef builds the LineRef for a mapping. Point travels only on
// spread/total lines; moneyline refs never carry one.
func lineRef(kind types.MarketKind, m types.OutcomeMapping, side types.Side) types.LineRef {
	ref := types.LineRef{
		LineID:        m.LineID,
		SelectionName: m.SelectionName,
		Kind:          kind,
		Side:          side,
	}
	if kind != types.Moneyline {
		ref.Point = m.Point
	}
	return ref
}
