package resolve

import (
	"testing"

	"exchange-mm/pkg/types"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func testTree() types.MarketTree {
	return types.MarketTree{
		EventID: 42,
		Categories: []types.MarketCategory{
			{
				Name: "Game Lines",
				Markets: []types.Market{
					{
						Type: "moneyline",
						Selections: []types.MarketSelection{
							{LineID: "ml-home", Name: "New York Yankees", Odds: ip(-115)},
							{LineID: "ml-away", Name: "Boston Red Sox", Odds: ip(105)},
						},
					},
					{
						Type: "spread",
						Selections: []types.MarketSelection{
							{LineID: "sp-home", Name: "New York Yankees", Odds: ip(-110), Point: fp(-1.5)},
							{LineID: "sp-away", Name: "Boston Red Sox", Odds: ip(-108), Point: fp(1.5)},
						},
					},
					{
						Type: "total",
						Selections: []types.MarketSelection{
							{LineID: "tot-over", Name: "Over", Odds: ip(-112), Point: fp(8.5)},
							{LineID: "tot-under", Name: "Under", Odds: ip(-106), Point: fp(8.5)},
						},
					},
				},
			},
			{
				// Period markets must be ignored even when they match.
				Name: "1st Inning",
				Markets: []types.Market{
					{
						Type: "moneyline",
						Selections: []types.MarketSelection{
							{LineID: "inning-ml", Name: "New York Yankees", Odds: ip(-130)},
						},
					},
				},
			},
		},
	}
}

func testRefEvent() types.ReferenceEvent {
	return types.ReferenceEvent{
		ID:   "ref-1",
		Home: "New York Yankees",
		Away: "Boston Red Sox",
		Markets: []types.ReferenceMarket{
			{Kind: types.Moneyline, Outcomes: []types.Outcome{
				{Name: "New York Yankees", AmericanOdds: -120},
				{Name: "Boston Red Sox", AmericanOdds: 110},
			}},
			{Kind: types.Spread, Outcomes: []types.Outcome{
				{Name: "New York Yankees", AmericanOdds: -112, Point: fp(-1.5)},
				{Name: "Boston Red Sox", AmericanOdds: -105, Point: fp(1.5)},
			}},
			{Kind: types.Total, Outcomes: []types.Outcome{
				{Name: "Over", AmericanOdds: -110, Point: fp(8.5)},
				{Name: "Under", AmericanOdds: -108, Point: fp(8.5)},
			}},
		},
	}
}

func allKinds() []types.MarketKind {
	return []types.MarketKind{types.Moneyline, types.Spread, types.Total}
}

func TestResolveLinesAllMarketsReady(t *testing.T) {
	t.Parallel()
	mr := NewMarketResolver(testLogger())

	resolved := mr.ResolveLines(testRefEvent(), testTree(), allKinds())
	if len(resolved) != 3 {
		t.Fatalf("resolved %d markets, want 3", len(resolved))
	}

	for _, rm := range resolved {
		if !rm.Ready {
			t.Errorf("%s not ready: %+v", rm.Kind, rm.Issues)
		}
		if len(rm.Mappings) != 2 {
			t.Errorf("%s has %d mappings, want 2", rm.Kind, len(rm.Mappings))
		}
	}

	// The moneyline must come from the main category, not the inning market.
	ml := resolved[0]
	for _, m := range ml.Mappings {
		if m.LineID == "inning-ml" {
			t.Error("moneyline resolved into a period-level market")
		}
	}
}

func TestResolveLinesPointTolerance(t *testing.T) {
	t.Parallel()
	mr := NewMarketResolver(testLogger())

	ref := testRefEvent()
	tree := testTree()

	// Exchange spread at 1.6 vs reference 1.5: delta exactly 0.1 matches.
	*tree.Categories[0].Markets[1].Selections[1].Point = 1.6
	resolved := mr.ResolveLines(ref, tree, []types.MarketKind{types.Spread})
	if !resolved[0].Ready {
		t.Fatalf("0.1 point delta should match: %+v", resolved[0].Issues)
	}

	// Delta 0.11 must not.
	*tree.Categories[0].Markets[1].Selections[1].Point = 1.61
	resolved = mr.ResolveLines(ref, tree, []types.MarketKind{types.Spread})
	if resolved[0].Ready {
		t.Fatal("0.11 point delta must not match")
	}
}

func TestResolveLinesUnquotedLineIsOpportunity(t *testing.T) {
	t.Parallel()
	mr := NewMarketResolver(testLogger())

	tree := testTree()
	tree.Categories[0].Markets[0].Selections[1].Odds = nil // Away unquoted

	resolved := mr.ResolveLines(testRefEvent(), tree, []types.MarketKind{types.Moneyline})
	rm := resolved[0]
	if !rm.Ready {
		t.Fatalf("unquoted line must still be usable: %+v", rm.Issues)
	}

	foundOpportunity := false
	for _, issue := range rm.Issues {
		if issue.Blocking {
			t.Errorf("unexpected blocking issue: %+v", issue)
		} else {
			foundOpportunity = true
		}
	}
	if !foundOpportunity {
		t.Error("expected a non-blocking issue flagging the unquoted line")
	}
}

func TestResolveLinesMissingSelectionBlocks(t *testing.T) {
	t.Parallel()
	mr := NewMarketResolver(testLogger())

	tree := testTree()
	tree.Categories[0].Markets[0].Selections = tree.Categories[0].Markets[0].Selections[:1]

	resolved := mr.ResolveLines(testRefEvent(), tree, []types.MarketKind{types.Moneyline})
	rm := resolved[0]
	if rm.Ready {
		t.Fatal("market with an unmatched outcome must not be ready")
	}
	blocking := false
	for _, issue := range rm.Issues {
		if issue.Blocking {
			blocking = true
		}
	}
	if !blocking {
		t.Error("expected a blocking issue")
	}
}

func TestResolveLinesTotalRequiresSide(t *testing.T) {
	t.Parallel()
	mr := NewMarketResolver(testLogger())

	// Swap Over/Under names in the tree so the sides no longer line up
	// with matching points removed.
	tree := testTree()
	tree.Categories[0].Markets[2].Selections[0].Point = fp(9.5)
	tree.Categories[0].Markets[2].Selections[1].Point = fp(9.5)

	resolved := mr.ResolveLines(testRefEvent(), tree, []types.MarketKind{types.Total})
	if resolved[0].Ready {
		t.Fatal("total with mismatched points must not be ready")
	}
}

func TestMarketKindNormalization(t *testing.T) {
	t.Parallel()
	cases := map[string]types.MarketKind{
		"Moneyline":    types.Moneyline,
		"Point Spread": types.Spread,
		"Run Line":     types.Spread,
		"Totals":       types.Total,
		"Over/Under":   types.Total,
	}
	for in, want := range cases {
		if got := normalizeMarketType(in); got != want {
			t.Errorf("normalizeMarketType(%q) = %q, want %q", in, got, want)
		}
	}
}
