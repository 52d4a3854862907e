package oddsfeed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"exchange-mm/internal/config"
	"exchange-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const snapshotBody = `[
	{
		"id": "evt-1",
		"sport_key": "baseball_mlb",
		"commence_time": "2026-04-01T23:00:00Z",
		"home_team": "New York Yankees",
		"away_team": "Boston Red Sox",
		"bookmakers": [
			{
				"key": "pinnacle",
				"markets": [
					{
						"key": "h2h",
						"outcomes": [
							{"name": "New York Yankees", "price": -120},
							{"name": "Boston Red Sox", "price": 110}
						]
					},
					{
						"key": "totals",
						"outcomes": [
							{"name": "Over", "price": -110, "point": 8.5},
							{"name": "Under", "price": -105, "point": 8.5}
						]
					}
				]
			},
			{
				"key": "someone_else",
				"markets": [
					{
						"key": "h2h",
						"outcomes": [
							{"name": "New York Yankees", "price": -999},
							{"name": "Boston Red Sox", "price": 999}
						]
					}
				]
			}
		]
	},
	{
		"id": "evt-2",
		"sport_key": "baseball_mlb",
		"commence_time": "2026-04-02T23:00:00Z",
		"home_team": "Chicago Cubs",
		"away_team": "Milwaukee Brewers",
		"bookmakers": [
			{"key": "someone_else", "markets": []}
		]
	}
]`

func newTestFeed(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	cfg := config.ReferenceConfig{
		APIKey:    "key-1",
		BaseURL:   ts.URL,
		Bookmaker: "pinnacle",
		Markets:   []string{"moneyline", "spread", "total"},
	}
	return NewClient(cfg, testLogger())
}

func TestFetchSnapshotExtractsConfiguredBookmaker(t *testing.T) {
	t.Parallel()
	c := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("apiKey"); got != "key-1" {
			t.Errorf("apiKey param = %q", got)
		}
		if got := r.URL.Query().Get("bookmakers"); got != "pinnacle" {
			t.Errorf("bookmakers param = %q", got)
		}
		if got := r.URL.Query().Get("oddsFormat"); got != "american" {
			t.Errorf("oddsFormat param = %q", got)
		}
		// Configured kinds must arrive in the aggregator's vocabulary.
		if got := r.URL.Query().Get("markets"); got != "h2h,spreads,totals" {
			t.Errorf("markets param = %q, want h2h,spreads,totals", got)
		}
		w.Header().Set("X-Requests-Remaining", "480")
		w.Header().Set("X-Requests-Used", "20")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(snapshotBody))
	})

	events, err := c.FetchSnapshot(context.Background(), "baseball_mlb")
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	// evt-2 has no pinnacle quotes and must be dropped.
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != "evt-1" || ev.Home != "New York Yankees" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if len(ev.Markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(ev.Markets))
	}

	ml := ev.Market(types.Moneyline)
	if ml == nil || ml.Outcomes[0].AmericanOdds != -120 {
		t.Errorf("moneyline should carry pinnacle's price, got %+v", ml)
	}
	tot := ev.Market(types.Total)
	if tot == nil || tot.Outcomes[0].Point == nil || *tot.Outcomes[0].Point != 8.5 {
		t.Errorf("total should carry the point, got %+v", tot)
	}

	credits := c.Credits()
	if credits.Remaining != 480 || credits.Used != 20 {
		t.Errorf("credits = %+v, want remaining 480 used 20", credits)
	}
}

func TestFetchSnapshotRateLimited(t *testing.T) {
	t.Parallel()
	c := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchSnapshot(context.Background(), "baseball_mlb")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// The client must observe the advertised pause before the next request.
	c.mu.Lock()
	pause := time.Until(c.pausedUntil)
	c.mu.Unlock()
	if pause < time.Second {
		t.Errorf("pausedUntil not set from Retry-After, pause = %v", pause)
	}
}

func TestThrottleEnforcesInterval(t *testing.T) {
	t.Parallel()
	calls := 0
	c := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	start := time.Now()
	if _, err := c.FetchSnapshot(context.Background(), "baseball_mlb"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.FetchSnapshot(context.Background(), "baseball_mlb"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < minRequestInterval {
		t.Errorf("two fetches completed in %v, expected at least %v apart", elapsed, minRequestInterval)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestThrottleContextCancelled(t *testing.T) {
	t.Parallel()
	c := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := c.FetchSnapshot(context.Background(), "baseball_mlb"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.FetchSnapshot(ctx, "baseball_mlb"); err == nil {
		t.Fatal("expected context error while throttled")
	}
}
