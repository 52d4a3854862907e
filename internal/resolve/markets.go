package resolve

import (
	"log/slog"
	"math"
	"strings"

	"exchange-mm/pkg/types"
)

// pointTolerance is the maximum spread/total point difference still treated
// as the same line. Exactly 0.1 matches; 0.11 does not.
const pointTolerance = 0.1 + 1e-9

// Only full-game lines are replicated; period markets and props are ignored.
func isMainGameCategory(name string) bool {
	n := normalizeName(name)
	return strings.Contains(n, "game lines") || n == "main" || n == "main markets"
}

// Issue records why an outcome could not be mapped, or why a mapped line
// deserves attention. Blocking issues prevent the market from being ready;
// opportunity issues (line exists but shows no quote) do not.
type Issue struct {
	Kind      types.MarketKind
	Selection string
	Blocking  bool
	Reason    string
}

// ResolvedMarket is the mapping result for one reference market.
type ResolvedMarket struct {
	Kind     types.MarketKind
	Mappings []types.OutcomeMapping
	Ready    bool
	Issues   []Issue
}

// MarketResolver maps reference market outcomes onto exchange line IDs.
type MarketResolver struct {
	logger *slog.Logger
}

// NewMarketResolver creates a market resolver.
func NewMarketResolver(logger *slog.Logger) *MarketResolver {
	return &MarketResolver{logger: logger.With("component", "market-resolver")}
}

// ResolveLines walks the reference event's markets of the requested kinds
// and maps each outcome to a line in the exchange market tree. A market is
// ready when both outcomes resolve to a line_id — quoted or not.
func (m *MarketResolver) ResolveLines(ref types.ReferenceEvent, tree types.MarketTree, kinds []types.MarketKind) []ResolvedMarket {
	var out []ResolvedMarket
	for _, kind := range kinds {
		refMarket := ref.Market(kind)
		if refMarket == nil {
			continue
		}
		resolved := m.resolveMarket(*refMarket, tree)
		out = append(out, resolved)
	}
	return out
}

func (m *MarketResolver) resolveMarket(refMarket types.ReferenceMarket, tree types.MarketTree) ResolvedMarket {
	result := ResolvedMarket{Kind: refMarket.Kind}

	if len(refMarket.Outcomes) != 2 {
		result.Issues = append(result.Issues, Issue{
			Kind:     refMarket.Kind,
			Blocking: true,
			Reason:   "reference market does not have exactly two outcomes",
		})
		return result
	}

	exMarket := findMarket(tree, refMarket.Kind)
	if exMarket == nil {
		result.Issues = append(result.Issues, Issue{
			Kind:     refMarket.Kind,
			Blocking: true,
			Reason:   "no matching market in main game lines",
		})
		return result
	}

	for _, outcome := range refMarket.Outcomes {
		sel := matchSelection(refMarket.Kind, outcome, exMarket.Selections)
		if sel == nil {
			result.Issues = append(result.Issues, Issue{
				Kind:      refMarket.Kind,
				Selection: outcome.Name,
				Blocking:  true,
				Reason:    "no selection matched",
			})
			continue
		}
		if sel.LineID == "" {
			result.Issues = append(result.Issues, Issue{
				Kind:      refMarket.Kind,
				Selection: outcome.Name,
				Blocking:  true,
				Reason:    "matched selection has no line_id",
			})
			continue
		}
		if sel.Odds == nil {
			// Unquoted line: not a failure, it is exactly where a market
			// maker provides the first liquidity.
			result.Issues = append(result.Issues, Issue{
				Kind:      refMarket.Kind,
				Selection: outcome.Name,
				Reason:    "line has no current quote",
			})
		}

		mapping := types.OutcomeMapping{
			Outcome:       outcome,
			LineID:        sel.LineID,
			SelectionName: sel.Name,
		}
		if refMarket.Kind != types.Moneyline {
			mapping.Point = sel.Point
		}
		result.Mappings = append(result.Mappings, mapping)
	}

	result.Ready = len(result.Mappings) == 2
	return result
}

// findMarket locates the market of the given kind inside the main game
// lines category of the tree.
func findMarket(tree types.MarketTree, kind types.MarketKind) *types.Market {
	for ci := range tree.Categories {
		cat := &tree.Categories[ci]
		if !isMainGameCategory(cat.Name) {
			continue
		}
		for mi := range cat.Markets {
			mk := &cat.Markets[mi]
			if normalizeMarketType(mk.Type) == kind {
				return mk
			}
		}
	}
	return nil
}

func normalizeMarketType(t string) types.MarketKind {
	switch normalizeName(t) {
	case "moneyline", "money line", "match winner":
		return types.Moneyline
	case "spread", "point spread", "handicap", "run line", "runline":
		return types.Spread
	case "total", "totals", "over under", "overunder":
		return types.Total
	}
	return types.MarketKind(normalizeName(t))
}

// matchSelection finds the exchange selection for one reference outcome.
// Moneyline matches by team name; spread by team name and point equality;
// total by Over/Under and point equality.
func matchSelection(kind types.MarketKind, outcome types.Outcome, selections []types.MarketSelection) *types.MarketSelection {
	name := normalizeName(outcome.Name)

	for i := range selections {
		sel := &selections[i]
		selName := normalizeName(sel.Name)

		switch kind {
		case types.Moneyline:
			if namesMatch(name, selName) {
				return sel
			}
		case types.Spread:
			if namesMatch(name, selName) && pointsEqual(outcome.Point, sel.Point) {
				return sel
			}
		case types.Total:
			if overUnderMatch(name, selName) && pointsEqual(outcome.Point, sel.Point) {
				return sel
			}
		}
	}
	return nil
}

func namesMatch(a, b string) bool {
	if a == b {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func overUnderMatch(ref, sel string) bool {
	refOver := strings.HasPrefix(ref, "over")
	refUnder := strings.HasPrefix(ref, "under")
	selOver := strings.HasPrefix(sel, "over")
	selUnder := strings.HasPrefix(sel, "under")
	return (refOver && selOver) || (refUnder && selUnder)
}

func pointsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return false
	}
	return math.Abs(*a-*b) <= pointTolerance
}
