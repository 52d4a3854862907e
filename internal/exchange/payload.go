package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"exchange-mm/pkg/types"
)

// The exchange's wager payloads are not stable: different endpoints (and
// different API revisions) spell the same field different ways. wagerPayload
// declares every variant seen in the wild and toRecord() collapses them into
// the one canonical types.WagerRecord the rest of the bot consumes.
type wagerPayload struct {
	ID    string `json:"wager_id"`
	AltID string `json:"id"`

	ExternalID    string `json:"external_id"`
	AltExternalID string `json:"client_ref"`

	LineID    string `json:"line_id"`
	AltLineID string `json:"betting_line_id"`

	Odds    *int `json:"odds"`
	AltOdds *int `json:"posted_odds"`

	Stake       *decimal.Decimal `json:"stake"`
	Amount      *decimal.Decimal `json:"amount"`
	WagerAmount *decimal.Decimal `json:"wager_amount"`

	MatchedStake  *decimal.Decimal `json:"matched_stake"`
	MatchedAmount *decimal.Decimal `json:"matched_amount"`

	UnmatchedStake  *decimal.Decimal `json:"unmatched_stake"`
	UnmatchedAmount *decimal.Decimal `json:"unmatched_amount"`

	Status         string `json:"status"`
	MatchingStatus string `json:"matching_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDecimal(vals ...*decimal.Decimal) decimal.Decimal {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return decimal.Zero
}

func (p wagerPayload) toRecord() types.WagerRecord {
	rec := types.WagerRecord{
		ID:             firstString(p.ID, p.AltID),
		ExternalID:     firstString(p.ExternalID, p.AltExternalID),
		LineID:         firstString(p.LineID, p.AltLineID),
		Stake:          firstDecimal(p.Stake, p.Amount, p.WagerAmount),
		MatchedStake:   firstDecimal(p.MatchedStake, p.MatchedAmount),
		Status:         normalizeStatus(p.Status),
		MatchingStatus: normalizeMatching(p.MatchingStatus),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.Odds != nil {
		rec.Odds = *p.Odds
	} else if p.AltOdds != nil {
		rec.Odds = *p.AltOdds
	}
	if p.UnmatchedStake != nil {
		rec.UnmatchedStake = *p.UnmatchedStake
	} else if p.UnmatchedAmount != nil {
		rec.UnmatchedStake = *p.UnmatchedAmount
	} else {
		rec.UnmatchedStake = rec.Stake.Sub(rec.MatchedStake)
	}
	if rec.MatchingStatus == "" {
		rec.MatchingStatus = inferMatching(rec)
	}
	return rec
}

// normalizeStatus maps the exchange's status vocabulary (both revisions)
// onto the canonical set.
func normalizeStatus(s string) types.WagerStatus {
	switch s {
	case "open", "active", "pending":
		return types.WagerOpen
	case "matched", "fully_matched":
		return types.WagerMatched
	case "partially_matched", "partial":
		return types.WagerPartiallyMatched
	case "cancelled", "canceled":
		return types.WagerCancelled
	case "expired":
		return types.WagerExpired
	case "settled", "closed":
		return types.WagerSettled
	case "void", "voided":
		return types.WagerVoid
	}
	return types.WagerStatus(s)
}

func normalizeMatching(s string) types.MatchingStatus {
	switch s {
	case "unmatched", "open":
		return types.MatchingUnmatched
	case "partially_matched", "partial":
		return types.MatchingPartial
	case "fully_matched", "matched", "full":
		return types.MatchingFull
	case "":
		return ""
	}
	return types.MatchingStatus(s)
}

// inferMatching derives a matching status from the stake split when the
// payload omits the field.
func inferMatching(rec types.WagerRecord) types.MatchingStatus {
	switch {
	case rec.MatchedStake.IsZero():
		return types.MatchingUnmatched
	case rec.MatchedStake.GreaterThanOrEqual(rec.Stake):
		return types.MatchingFull
	default:
		return types.MatchingPartial
	}
}
