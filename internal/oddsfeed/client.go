// Package oddsfeed fetches reference odds from the upstream aggregator.
//
// The aggregator surfaces many bookmakers per event; only the single
// configured sharp bookmaker is extracted, and only its moneyline, spread,
// and total markets. The client enforces a minimum interval between requests
// and tracks the API credit counters the aggregator reports in response
// headers.
package oddsfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"exchange-mm/internal/config"
	"exchange-mm/pkg/types"
)

// minRequestInterval is the floor between consecutive aggregator requests.
const minRequestInterval = time.Second

// ErrRateLimited is returned on 429 from the aggregator.
var ErrRateLimited = fmt.Errorf("odds feed rate limited")

// Credits is the aggregator's usage accounting, read from response headers.
type Credits struct {
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is the odds aggregator REST client.
type Client struct {
	http      *resty.Client
	apiKey    string
	bookmaker string
	markets   []string
	logger    *slog.Logger

	mu          sync.Mutex
	lastRequest time.Time
	credits     Credits
	pausedUntil time.Time
}

// NewClient creates an aggregator client for one configured bookmaker.
func NewClient(cfg config.ReferenceConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:      httpClient,
		apiKey:    cfg.APIKey,
		bookmaker: cfg.Bookmaker,
		markets:   aggregatorMarkets(cfg.Markets),
		logger:    logger.With("component", "odds-feed"),
	}
}

// Credits returns the last observed credit counters.
func (c *Client) Credits() Credits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credits
}

// throttle enforces the inter-request floor and any 429-imposed pause.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Until(c.lastRequest.Add(minRequestInterval))
	if pause := time.Until(c.pausedUntil); pause > wait {
		wait = pause
	}
	c.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
	return nil
}

// recordHeaders captures the credit counters the aggregator reports.
func (c *Client) recordHeaders(resp *resty.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v := resp.Header().Get("X-Requests-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.credits.Remaining = n
			c.credits.UpdatedAt = time.Now()
		}
	}
	if v := resp.Header().Get("X-Requests-Used"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.credits.Used = n
		}
	}
}

// FetchSnapshot returns every upcoming event the configured bookmaker quotes
// for the sport, with its two-outcome markets converted to American odds
// reference markets.
func (c *Client) FetchSnapshot(ctx context.Context, sport string) ([]types.ReferenceEvent, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	var payload []eventPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apiKey":     c.apiKey,
			"regions":    "us,eu",
			"bookmakers": c.bookmaker,
			"markets":    joinMarkets(c.markets),
			"oddsFormat": "american",
		}).
		SetResult(&payload).
		Get(fmt.Sprintf("/sports/%s/odds", sport))
	if err != nil {
		return nil, fmt.Errorf("fetch odds: %w", err)
	}
	c.recordHeaders(resp)

	if resp.StatusCode() == http.StatusTooManyRequests {
		pause := parseRetryAfter(resp)
		c.mu.Lock()
		c.pausedUntil = time.Now().Add(pause)
		c.mu.Unlock()
		c.logger.Warn("odds feed rate limited", "pause", pause)
		return nil, fmt.Errorf("fetch odds: %w (retry after %s)", ErrRateLimited, pause)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch odds: status %d: %s", resp.StatusCode(), resp.String())
	}

	events := make([]types.ReferenceEvent, 0, len(payload))
	for _, ep := range payload {
		ev, ok := ep.toEvent(c.bookmaker)
		if !ok {
			continue // bookmaker not quoting this event
		}
		events = append(events, ev)
	}

	c.logger.Debug("reference snapshot fetched",
		"events", len(events),
		"credits_remaining", c.Credits().Remaining)
	return events, nil
}

// aggregatorMarkets translates the configured market kinds into the
// aggregator's own market keys. The inverse mapping lives in the payload
// parser.
func aggregatorMarkets(configured []string) []string {
	if len(configured) == 0 {
		return []string{"h2h", "spreads", "totals"}
	}
	out := make([]string, 0, len(configured))
	for _, m := range configured {
		switch types.MarketKind(m) {
		case types.Moneyline:
			out = append(out, "h2h")
		case types.Spread:
			out = append(out, "spreads")
		case types.Total:
			out = append(out, "totals")
		}
	}
	return out
}

func joinMarkets(markets []string) string {
	out := ""
	for i, m := range markets {
		if i > 0 {
			out += ","
		}
		out += m
	}
	return out
}

func parseRetryAfter(resp *resty.Response) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}
