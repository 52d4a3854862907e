package resolve

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"exchange-mm/pkg/types"
)

// Time-proximity buckets for the pairing score. Anything beyond the
// configured tolerance rejects the candidate outright.
const (
	timeWeight = 0.4
	teamWeight = 0.6
)

// NoMatch is returned instead of a pairing when no candidate clears the
// confidence threshold. A wrong pairing is worse than none.
type NoMatch struct {
	Reason    string
	BestScore float64
}

// EventResolver pairs reference events with exchange events.
type EventResolver struct {
	threshold     float64
	timeTolerance time.Duration
	logger        *slog.Logger

	mu        sync.RWMutex
	overrides map[string]int // reference_event_id -> exchange_event_id
}

// NewEventResolver creates a resolver with the given acceptance threshold
// and start-time tolerance.
func NewEventResolver(threshold float64, timeTolerance time.Duration, logger *slog.Logger) *EventResolver {
	return &EventResolver{
		threshold:     threshold,
		timeTolerance: timeTolerance,
		logger:        logger.With("component", "event-resolver"),
		overrides:     make(map[string]int),
	}
}

// SetOverride forces a pairing for a reference event, bypassing scoring.
func (r *EventResolver) SetOverride(refEventID string, exchangeEventID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[refEventID] = exchangeEventID
}

// RemoveOverride deletes a manual override.
func (r *EventResolver) RemoveOverride(refEventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, refEventID)
}

// Overrides returns a copy of the manual override map.
func (r *EventResolver) Overrides() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.overrides))
	for k, v := range r.overrides {
		out[k] = v
	}
	return out
}

// Resolve finds the exchange event matching a reference event. Every
// candidate is scored; the best one is accepted if it clears the threshold.
// Manual overrides win unconditionally with confidence 1.0.
func (r *EventResolver) Resolve(ref types.ReferenceEvent, candidates []types.ExchangeEvent, now time.Time) (types.EventPairing, *NoMatch) {
	r.mu.RLock()
	overrideID, hasOverride := r.overrides[ref.ID]
	r.mu.RUnlock()

	if hasOverride {
		return types.EventPairing{
			ReferenceEventID: ref.ID,
			ExchangeEventID:  overrideID,
			Confidence:       1.0,
			Reasons:          []string{"manual override"},
			ManualOverride:   true,
			PairedAt:         now,
		}, nil
	}

	var (
		best        float64
		bestEvent   *types.ExchangeEvent
		bestReasons []string
	)

	for i := range candidates {
		ev := &candidates[i]
		score, reasons, ok := r.score(ref, ev)
		if !ok {
			continue
		}
		if score > best {
			best = score
			bestEvent = ev
			bestReasons = reasons
		}
	}

	if bestEvent == nil {
		return types.EventPairing{}, &NoMatch{Reason: "no candidate within time tolerance", BestScore: 0}
	}
	// Confidence exactly at threshold is accepted.
	if best < r.threshold {
		return types.EventPairing{}, &NoMatch{
			Reason:    fmt.Sprintf("best candidate (exchange event %d) below threshold", bestEvent.ID),
			BestScore: best,
		}
	}

	r.logger.Debug("event paired",
		"reference_event", ref.ID,
		"exchange_event", bestEvent.ID,
		"confidence", best,
	)

	return types.EventPairing{
		ReferenceEventID: ref.ID,
		ExchangeEventID:  bestEvent.ID,
		Confidence:       best,
		Reasons:          bestReasons,
		PairedAt:         now,
	}, nil
}

// score combines time proximity (40%) and team similarity (60%).
func (r *EventResolver) score(ref types.ReferenceEvent, ev *types.ExchangeEvent) (float64, []string, bool) {
	delta := ref.CommenceTime.Sub(ev.CommenceTime)
	if delta < 0 {
		delta = -delta
	}

	var timeScore float64
	switch {
	case delta <= 5*time.Minute:
		timeScore = 1.0
	case delta <= 10*time.Minute:
		timeScore = 0.9
	case delta <= r.timeTolerance:
		timeScore = 0.7
	default:
		return 0, nil, false
	}

	teamScore, orientation := bestTeamScore(ref.Home, ref.Away, ev.Home, ev.Away)

	total := timeWeight*timeScore + teamWeight*teamScore
	reasons := []string{
		fmt.Sprintf("time delta %s (score %.2f)", delta, timeScore),
		fmt.Sprintf("team similarity %.2f (%s)", teamScore, orientation),
	}
	return total, reasons, true
}

// bestTeamScore tries both orientations (home↔home and home↔away) and
// keeps the better. Feed providers disagree about which team is listed
// first often enough that this matters.
func bestTeamScore(refHome, refAway, evHome, evAway string) (float64, string) {
	rh, ra := normalizeName(refHome), normalizeName(refAway)
	eh, ea := normalizeName(evHome), normalizeName(evAway)

	straight := (nameSimilarity(rh, eh) + nameSimilarity(ra, ea)) / 2
	flipped := (nameSimilarity(rh, ea) + nameSimilarity(ra, eh)) / 2

	if flipped > straight {
		return flipped, "flipped"
	}
	return straight, "straight"
}
