// Package position projects the exchange's wager histories into per-line
// position summaries.
//
// The exchange is authoritative: the store never mutates wager records, it
// only refreshes its projection from a windowed history sweep once per cycle
// and summarizes per line. A 404 on an individual wager lookup is recorded
// via InferSettled as an implied full match until the next sweep confirms it.
package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange-mm/internal/exchange"
	"exchange-mm/pkg/types"
)

const (
	// defaultWindow is how far back a refresh sweep reaches.
	defaultWindow = 7 * 24 * time.Hour

	// recentFillWindow bounds the fills attached to a line summary.
	recentFillWindow = time.Hour
)

// historyFetcher is the slice of the exchange client the store needs.
type historyFetcher interface {
	WagerHistories(ctx context.Context, filter exchange.HistoryFilter) ([]types.WagerRecord, error)
}

// Store holds the per-line projection for the current cycle.
type Store struct {
	client historyFetcher
	window time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	byLine   map[string][]types.WagerRecord
	inferred map[string]types.WagerRecord // wager_id -> record treated as matched-in-full
	asOf     time.Time
}

// NewStore creates a position store over the given history source.
func NewStore(client historyFetcher, logger *slog.Logger) *Store {
	return &Store{
		client:   client,
		window:   defaultWindow,
		logger:   logger.With("component", "position-store"),
		byLine:   make(map[string][]types.WagerRecord),
		inferred: make(map[string]types.WagerRecord),
	}
}

// Refresh performs the cycle's single history sweep and rebuilds the per-line
// buckets. Lines outside lineIDs are dropped from the projection; inferred
// settlements confirmed by the sweep are cleared.
func (s *Store) Refresh(ctx context.Context, lineIDs []string) error {
	now := time.Now()
	records, err := s.client.WagerHistories(ctx, exchange.HistoryFilter{
		From: now.Add(-s.window),
		To:   now,
	})
	if err != nil {
		return err
	}

	tracked := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		tracked[id] = true
	}

	byLine := make(map[string][]types.WagerRecord, len(lineIDs))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.ID] = true
		if !tracked[rec.LineID] {
			continue
		}
		byLine[rec.LineID] = append(byLine[rec.LineID], rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The sweep is the source of truth: any inferred settlement whose wager
	// reappeared in a history page is superseded by the real record.
	for id, rec := range s.inferred {
		if seen[id] || !tracked[rec.LineID] {
			delete(s.inferred, id)
			continue
		}
		byLine[rec.LineID] = append(byLine[rec.LineID], rec)
	}

	s.byLine = byLine
	s.asOf = now
	s.logger.Debug("positions refreshed",
		"records", len(records), "lines", len(byLine), "inferred", len(s.inferred))
	return nil
}

// InferSettled records that wagerID vanished from individual lookup (404).
// Absence means the wager matured and cleared, so it is treated as matched
// in full for state-machine purposes until the next sweep settles the
// question with real data. prior is the last record observed for the wager.
func (s *Store) InferSettled(prior types.WagerRecord, now time.Time) {
	rec := prior
	rec.MatchedStake = rec.Stake
	rec.UnmatchedStake = decimal.Zero
	rec.Status = types.WagerSettled
	rec.MatchingStatus = types.MatchingFull
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferred[rec.ID] = rec

	// Replace the stale copy in the current projection so Summary reflects
	// the implied fill immediately, not one cycle late.
	bucket := s.byLine[rec.LineID]
	replaced := false
	for i := range bucket {
		if bucket[i].ID == rec.ID {
			bucket[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.byLine[rec.LineID] = append(bucket, rec)
	}

	s.logger.Info("wager inferred settled",
		"wager_id", rec.ID, "line_id", rec.LineID, "stake", rec.Stake)
}

// OpenRecords returns every record in the projection still open for
// matching. Callers use it to verify wagers individually: a wager that was
// open last cycle but vanished from both the sweep and individual lookup
// has settled.
func (s *Store) OpenRecords() []types.WagerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.WagerRecord
	for _, bucket := range s.byLine {
		for _, rec := range bucket {
			if rec.Status.OpenForMatching() {
				out = append(out, rec)
			}
		}
	}
	return out
}

// Records returns the current cycle's records for one line.
func (s *Store) Records(lineID string) []types.WagerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.WagerRecord, len(s.byLine[lineID]))
	copy(out, s.byLine[lineID])
	return out
}

// Summary aggregates the line's records into a LinePosition.
//
//   - total_matched sums matched stake across every record.
//   - total_unmatched counts only records still open for matching.
//   - has_open_wager means an unmatched record in an open status exists.
//   - last_fill_time is the newest update among records with any match.
//   - recent_fills carries the matched records updated inside the last hour.
//
// Terminal records that never matched (cancelled, expired, voided without a
// fill) hold no exposure and are excluded from every total.
func (s *Store) Summary(lineID string) types.LinePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-recentFillWindow)
	pos := types.LinePosition{LineID: lineID}
	for _, rec := range s.byLine[lineID] {
		if rec.Status.Terminal() && !rec.MatchedStake.IsPositive() {
			continue
		}
		pos.TotalStake = pos.TotalStake.Add(rec.Stake)
		pos.TotalMatched = pos.TotalMatched.Add(rec.MatchedStake)
		if rec.Status.OpenForMatching() {
			pos.TotalUnmatched = pos.TotalUnmatched.Add(rec.Stake.Sub(rec.MatchedStake))
		}
		if rec.MatchingStatus == types.MatchingUnmatched && rec.Status == types.WagerOpen {
			pos.HasOpenWager = true
		}
		if rec.MatchedStake.IsPositive() {
			if rec.UpdatedAt.After(pos.LastFillTime) {
				pos.LastFillTime = rec.UpdatedAt
			}
			if rec.UpdatedAt.After(cutoff) {
				pos.RecentFills = append(pos.RecentFills, types.Fill{
					WagerID: rec.ID,
					LineID:  rec.LineID,
					Amount:  rec.MatchedStake,
					At:      rec.UpdatedAt,
				})
			}
		}
	}
	return pos
}

// Summaries returns a summary for each requested line.
func (s *Store) Summaries(lineIDs []string) map[string]types.LinePosition {
	out := make(map[string]types.LinePosition, len(lineIDs))
	for _, id := range lineIDs {
		out[id] = s.Summary(id)
	}
	return out
}

// RecentFills returns fills observed on the given lines inside the window,
// newest last. A fill is any record with matched stake updated in-window.
func (s *Store) RecentFills(lineIDs []string, window time.Duration) []types.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var fills []types.Fill
	for _, lineID := range lineIDs {
		for _, rec := range s.byLine[lineID] {
			if rec.MatchedStake.IsPositive() && rec.UpdatedAt.After(cutoff) {
				fills = append(fills, types.Fill{
					WagerID: rec.ID,
					LineID:  rec.LineID,
					Amount:  rec.MatchedStake,
					At:      rec.UpdatedAt,
				})
			}
		}
	}
	return fills
}

// AsOf reports when the projection was last refreshed.
func (s *Store) AsOf() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asOf
}
