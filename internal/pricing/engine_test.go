package pricing

import (
	"math"
	"testing"

	"exchange-mm/internal/config"
	"exchange-mm/pkg/types"
)

func testSizingConfig() config.SizingConfig {
	return config.SizingConfig{
		BasePlusStake:      100,
		HardMaxPlus:        500,
		PositionMultiplier: 5,
		CommissionRate:     0.03,
	}
}

func TestHedgeOddsInvolution(t *testing.T) {
	t.Parallel()
	for _, v := range []int{-120, -105, 100, 110, 350} {
		if got := HedgeOdds(HedgeOdds(v)); got != v {
			t.Errorf("HedgeOdds(HedgeOdds(%d)) = %d", v, got)
		}
	}
}

func TestEffectiveOdds(t *testing.T) {
	t.Parallel()

	// Positive odds pay less after commission.
	if got := EffectiveOdds(120, 0.03); math.Abs(got-116.4) > 1e-9 {
		t.Errorf("EffectiveOdds(120) = %v, want 116.4", got)
	}
	// Negative odds must risk more to net the same.
	got := EffectiveOdds(-110, 0.03)
	want := -110.0 / 0.97
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("EffectiveOdds(-110) = %v, want %v", got, want)
	}
}

func TestSnapIdempotent(t *testing.T) {
	t.Parallel()
	l := NewLadder()

	for _, x := range []float64{-113.4, 116.4, 101.2, -2750, 9999, -100.5} {
		first := l.Snap(x)
		second := l.Snap(float64(first))
		if first != second {
			t.Errorf("snap not idempotent at %v: %d then %d", x, first, second)
		}
		if !l.Contains(first) {
			t.Errorf("snap(%v) = %d not on ladder", x, first)
		}
	}
}

func TestSnapTieBreaksTowardZero(t *testing.T) {
	t.Parallel()
	l := NewLadder()

	// 202.5 sits exactly between 200 and 205 in the 5-step tier.
	if got := l.Snap(202.5); got != 200 {
		t.Errorf("Snap(202.5) = %d, want 200", got)
	}
	if got := l.Snap(-202.5); got != -200 {
		t.Errorf("Snap(-202.5) = %d, want -200", got)
	}
}

func TestSnapClampsToLadderEnds(t *testing.T) {
	t.Parallel()
	l := NewLadder()

	if got := l.Snap(97.0); got != 100 {
		t.Errorf("Snap(97) = %d, want 100", got)
	}
	if got := l.Snap(-25000); got != -10000 {
		t.Errorf("Snap(-25000) = %d, want -10000", got)
	}
}

func fp(v float64) *float64 { return &v }

func mlMappings(homeOdds, awayOdds int) []types.OutcomeMapping {
	return []types.OutcomeMapping{
		{Outcome: types.Outcome{Name: "Braves", AmericanOdds: homeOdds}, LineID: "ln-home", SelectionName: "Braves"},
		{Outcome: types.Outcome{Name: "Mets", AmericanOdds: awayOdds}, LineID: "ln-away", SelectionName: "Mets"},
	}
}

// Reference moneyline Home -120 / Away +110, commission 3%, B=100.
// Hedges are +120 and -110; effective 116.40 and -113.40; minus stake
// sizes to the plus side's winnings: 116.40/1.1340 ≈ 102.65.
func TestBuildTargetsReplicatesSharpLine(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	pair, skip := e.BuildTargets(types.Moneyline, mlMappings(-120, 110))
	if skip != SkipNone {
		t.Fatalf("unexpected skip: %s", skip)
	}

	if pair.Plus.Line.LineID != "ln-home" {
		t.Errorf("plus side should be the hedged home line, got %s", pair.Plus.Line.LineID)
	}
	if pair.Minus.Line.LineID != "ln-away" {
		t.Errorf("minus side should be the hedged away line, got %s", pair.Minus.Line.LineID)
	}

	if pair.Plus.Odds <= 0 || pair.Minus.Odds >= 0 {
		t.Fatalf("sides have wrong sign: plus=%d minus=%d", pair.Plus.Odds, pair.Minus.Odds)
	}

	l := e.Ladder()
	if !l.Contains(pair.Plus.Odds) || !l.Contains(pair.Minus.Odds) {
		t.Errorf("posted odds not on ladder: %d / %d", pair.Plus.Odds, pair.Minus.Odds)
	}

	plusStake, _ := pair.Plus.TargetUnmatched.Float64()
	if plusStake != 100 {
		t.Errorf("plus stake = %v, want 100", plusStake)
	}
	minusStake, _ := pair.Minus.TargetUnmatched.Float64()
	if math.Abs(minusStake-102.65) > 0.05 {
		t.Errorf("minus stake = %v, want ≈102.65", minusStake)
	}

	// Position caps: plus min(500, 100*5)=500, minus stake*5.
	maxPlus, _ := pair.Plus.MaxPosition.Float64()
	if maxPlus != 500 {
		t.Errorf("plus max position = %v, want 500", maxPlus)
	}
	maxMinus, _ := pair.Minus.MaxPosition.Float64()
	if math.Abs(maxMinus-minusStake*5) > 1e-6 {
		t.Errorf("minus max position = %v, want %v", maxMinus, minusStake*5)
	}
}

// Reference -105/+100 with 3% commission leaves no margin.
func TestBuildTargetsUnprofitableMarket(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	_, skip := e.BuildTargets(types.Moneyline, mlMappings(-105, 100))
	if skip != SkipUnprofitable {
		t.Fatalf("skip = %q, want %q", skip, SkipUnprofitable)
	}
}

func TestBuildTargetsBothSameSign(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	// Two heavy favourites can't both be hedged with opposite signs once
	// commission is applied.
	_, skip := e.BuildTargets(types.Moneyline, mlMappings(-150, -150))
	if skip != SkipBothSameSign {
		t.Fatalf("skip = %q, want %q", skip, SkipBothSameSign)
	}
}

func TestBuildTargetsMissingLineID(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	m := mlMappings(-120, 110)
	m[1].LineID = ""
	_, skip := e.BuildTargets(types.Moneyline, m)
	if skip != SkipMissingLineID {
		t.Fatalf("skip = %q, want %q", skip, SkipMissingLineID)
	}
}

func TestBuildTargetsFewerThanTwoOutcomes(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	_, skip := e.BuildTargets(types.Moneyline, mlMappings(-120, 110)[:1])
	if skip != SkipFewerThanTwoOutcomes {
		t.Fatalf("skip = %q, want %q", skip, SkipFewerThanTwoOutcomes)
	}
}

// Accepted markets satisfy: gross plus-side return exceeds the total staked.
func TestAcceptedMarketsAreArbitrageSound(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	cases := [][2]int{{-120, 110}, {-150, 135}, {-200, 180}, {-110, 105}}
	for _, c := range cases {
		pair, skip := e.BuildTargets(types.Moneyline, mlMappings(c[0], c[1]))
		if skip != SkipNone {
			continue
		}
		plusStake, _ := pair.Plus.TargetUnmatched.Float64()
		minusStake, _ := pair.Minus.TargetUnmatched.Float64()

		effPlus := EffectiveOdds(HedgeOdds(c[0]), 0.03)
		gross := plusStake + plusStake*effPlus/100
		if gross <= plusStake+minusStake {
			t.Errorf("%v: accepted but gross return %.2f <= invested %.2f", c, gross, plusStake+minusStake)
		}
	}
}

func TestSpreadTargetsCarryPoint(t *testing.T) {
	t.Parallel()
	e := NewEngine(testSizingConfig())

	mappings := []types.OutcomeMapping{
		{Outcome: types.Outcome{Name: "Braves", AmericanOdds: -115, Point: fp(-1.5)}, LineID: "sp-1", SelectionName: "Braves", Point: fp(-1.5)},
		{Outcome: types.Outcome{Name: "Mets", AmericanOdds: 108, Point: fp(1.5)}, LineID: "sp-2", SelectionName: "Mets", Point: fp(1.5)},
	}
	pair, skip := e.BuildTargets(types.Spread, mappings)
	if skip != SkipNone {
		t.Fatalf("unexpected skip: %s", skip)
	}
	if pair.Plus.Line.Point == nil || pair.Minus.Line.Point == nil {
		t.Fatal("spread line refs must carry points")
	}

	// Moneyline refs never carry a point even if the mapping has one.
	ml, skip := e.BuildTargets(types.Moneyline, mappings)
	if skip != SkipNone {
		t.Fatalf("unexpected skip: %s", skip)
	}
	if ml.Plus.Line.Point != nil {
		t.Error("moneyline line ref must not carry a point")
	}
}
