package oddsfeed

import (
	"time"

	"exchange-mm/pkg/types"
)

// Aggregator wire shapes. Odds arrive in American format because the
// request asks for it; prices are integers on the wire.
type eventPayload struct {
	ID           string            `json:"id"`
	SportKey     string            `json:"sport_key"`
	CommenceTime time.Time         `json:"commence_time"`
	HomeTeam     string            `json:"home_team"`
	AwayTeam     string            `json:"away_team"`
	Bookmakers   []bookmakerOffers `json:"bookmakers"`
}

type bookmakerOffers struct {
	Key     string          `json:"key"`
	Markets []marketPayload `json:"markets"`
}

type marketPayload struct {
	Key      string           `json:"key"` // h2h, spreads, totals
	Outcomes []outcomePayload `json:"outcomes"`
}

type outcomePayload struct {
	Name  string   `json:"name"`
	Price int      `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

// toEvent extracts the one configured bookmaker's markets. Returns false
// when the bookmaker is not quoting the event at all.
func (ep eventPayload) toEvent(bookmaker string) (types.ReferenceEvent, bool) {
	var offers *bookmakerOffers
	for i := range ep.Bookmakers {
		if ep.Bookmakers[i].Key == bookmaker {
			offers = &ep.Bookmakers[i]
			break
		}
	}
	if offers == nil {
		return types.ReferenceEvent{}, false
	}

	ev := types.ReferenceEvent{
		ID:           ep.ID,
		Home:         ep.HomeTeam,
		Away:         ep.AwayTeam,
		CommenceTime: ep.CommenceTime,
	}
	for _, mp := range offers.Markets {
		kind, ok := marketKind(mp.Key)
		if !ok || len(mp.Outcomes) != 2 {
			continue
		}
		rm := types.ReferenceMarket{Kind: kind}
		for _, op := range mp.Outcomes {
			rm.Outcomes = append(rm.Outcomes, types.Outcome{
				Name:         op.Name,
				AmericanOdds: op.Price,
				Point:        op.Point,
			})
		}
		ev.Markets = append(ev.Markets, rm)
	}
	if len(ev.Markets) == 0 {
		return types.ReferenceEvent{}, false
	}
	return ev, true
}

func marketKind(key string) (types.MarketKind, bool) {
	switch key {
	case "h2h":
		return types.Moneyline, true
	case "spreads":
		return types.Spread, true
	case "totals":
		return types.Total, true
	}
	return "", false
}
