// Package exchange implements the betting exchange REST client.
//
// The client talks to the exchange API for market metadata and wager
// management:
//   - ListTournaments:      GET  /tournaments            — competitions for a sport
//   - ListEvents:           GET  /tournaments/{id}/events — upcoming events
//   - GetMarkets:           GET  /events/{id}/markets     — market tree with lines
//   - PlaceWager:           POST /wagers                  — place one wager
//   - CancelWager:          DELETE /wagers/{id}           — cancel by server id
//   - CancelWagersForLines: POST /wagers/cancel           — bulk cancel by line
//   - GetWager:             GET  /wagers/{id}             — single wager lookup
//   - WagerHistories:       GET  /wagers                  — windowed, cursor-paged history
//
// Every request is rate-limited via per-category TokenBuckets, retried on 5xx,
// and carries a bearer token from the Auth session manager. A 401 invalidates
// the session and the request is retried once with fresh credentials. A 404 on
// a single wager lookup is surfaced as ErrNotFound so callers can apply their
// settlement inference; 429 surfaces as ErrRateLimited with the advertised
// Retry-After.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-mm/internal/config"
	"exchange-mm/pkg/types"
)

const (
	prodBaseURL    = "https://api.prophetbet.example/v1"
	sandboxBaseURL = "https://api-sandbox.prophetbet.example/v1"
)

var (
	// ErrNotFound is returned when a single wager lookup gets a 404.
	ErrNotFound = errors.New("wager not found")
	// ErrRateLimited is returned on 429. Use RetryAfter to get the pause.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError wraps ErrRateLimited with the server's advertised pause.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the advertised pause from an error chain, or zero.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// PlaceWagerRequest is the input to PlaceWager.
type PlaceWagerRequest struct {
	ExternalID string          `json:"external_id"`
	LineID     string          `json:"line_id"`
	Odds       int             `json:"odds"`
	Stake      decimal.Decimal `json:"stake"`
}

// HistoryFilter narrows a WagerHistories sweep. Zero-valued fields are
// omitted from the query.
type HistoryFilter struct {
	From           time.Time
	To             time.Time
	Status         types.WagerStatus
	MatchingStatus types.MatchingStatus
}

// Client is the exchange REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and bearer-token auth.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// BaseURL picks the exchange base URL from config: explicit override first,
// then sandbox or production by flag.
func BaseURL(cfg config.ExchangeConfig) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	if cfg.Sandbox {
		return sandboxBaseURL
	}
	return prodBaseURL
}

// NewClient creates a REST client with rate limiting and retry. The Auth
// session manager shares the same underlying HTTP client.
func NewClient(cfg config.ExchangeConfig, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(BaseURL(cfg)).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   NewAuth(httpClient, cfg.AccessKey, cfg.SecretKey, logger),
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "exchange-client"),
	}
}

// Auth exposes the session manager (for RunRefresh).
func (c *Client) Auth() *Auth { return c.auth }

// do executes one API call: it fetches a token, builds and sends the request
// via send, and converts the response status. A 401 means the access token
// was revoked server-side before its advertised expiry; the session is
// invalidated and the call retried once with fresh credentials.
func (c *Client) do(ctx context.Context, op string, send func(req *resty.Request) (*resty.Response, error)) error {
	for attempt := 0; ; attempt++ {
		token, err := c.auth.Token(ctx)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}

		resp, err := send(c.http.R().SetContext(ctx).SetAuthToken(token))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			c.logger.Warn("access token rejected, re-authenticating", "op", op)
			c.auth.Invalidate()
			continue
		}
		return checkStatus(op, resp)
	}
}

// checkStatus converts non-200 responses into errors, including the typed
// 404 / 429 cases.
func checkStatus(op string, resp *resty.Response) error {
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, &RateLimitError{RetryAfter: parseRetryAfter(resp)})
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
}

func parseRetryAfter(resp *resty.Response) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 10 * time.Second
}

// ListTournaments fetches the competitions available for a sport.
func (c *Client) ListTournaments(ctx context.Context, sport string) ([]types.Tournament, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Tournaments []types.Tournament `json:"tournaments"`
	}
	err := c.do(ctx, "list tournaments", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParam("sport", sport).
			SetResult(&result).
			Get("/tournaments")
	})
	if err != nil {
		return nil, err
	}
	return result.Tournaments, nil
}

// ListEvents fetches the upcoming events of one tournament.
func (c *Client) ListEvents(ctx context.Context, tournamentID int) ([]types.ExchangeEvent, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Events []types.ExchangeEvent `json:"events"`
	}
	err := c.do(ctx, "list events", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get(fmt.Sprintf("/tournaments/%d/events", tournamentID))
	})
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// GetMarkets fetches the full market tree for one event.
func (c *Client) GetMarkets(ctx context.Context, eventID int) (*types.MarketTree, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.MarketTree
	err := c.do(ctx, "get markets", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get(fmt.Sprintf("/events/%d/markets", eventID))
	})
	if err != nil {
		return nil, err
	}
	result.EventID = eventID
	return &result, nil
}

// PlaceWager places one wager. The external ID must be unique per placement
// attempt, even on retry.
func (c *Client) PlaceWager(ctx context.Context, wr PlaceWagerRequest) (*types.WagerRecord, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place wager",
			"external_id", wr.ExternalID, "line_id", wr.LineID,
			"odds", wr.Odds, "stake", wr.Stake)
		now := time.Now()
		return &types.WagerRecord{
			ID:             "dry-run-" + uuid.NewString(),
			ExternalID:     wr.ExternalID,
			LineID:         wr.LineID,
			Odds:           wr.Odds,
			Stake:          wr.Stake,
			UnmatchedStake: wr.Stake,
			Status:         types.WagerOpen,
			MatchingStatus: types.MatchingUnmatched,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, nil
	}

	if err := c.rl.Place.Wait(ctx); err != nil {
		return nil, err
	}

	var result wagerPayload
	err := c.do(ctx, "place wager", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(wr).
			SetResult(&result).
			Post("/wagers")
	})
	if err != nil {
		return nil, err
	}

	rec := result.toRecord()
	c.logger.Info("wager placed",
		"wager_id", rec.ID, "line_id", rec.LineID,
		"odds", rec.Odds, "stake", rec.Stake)
	return &rec, nil
}

// CancelWager cancels a single wager by its server ID.
func (c *Client) CancelWager(ctx context.Context, wagerID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel wager", "wager_id", wagerID)
		return nil
	}

	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	err := c.do(ctx, "cancel wager", func(req *resty.Request) (*resty.Response, error) {
		return req.Delete("/wagers/" + wagerID)
	})
	if err != nil {
		return err
	}
	c.logger.Info("wager cancelled", "wager_id", wagerID)
	return nil
}

// CancelWagersForLines bulk-cancels every open wager on the given lines.
func (c *Client) CancelWagersForLines(ctx context.Context, lineIDs []string) error {
	if len(lineIDs) == 0 {
		return nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel wagers for lines", "lines", len(lineIDs))
		return nil
	}

	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	err := c.do(ctx, "cancel wagers for lines", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string][]string{"line_ids": lineIDs}).
			Post("/wagers/cancel")
	})
	if err != nil {
		return err
	}
	c.logger.Info("line wagers cancelled", "lines", len(lineIDs))
	return nil
}

// GetWager looks up one wager. Returns ErrNotFound on 404; callers decide
// what absence means.
func (c *Client) GetWager(ctx context.Context, wagerID string) (*types.WagerRecord, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var result wagerPayload
	err := c.do(ctx, "get wager", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get("/wagers/" + wagerID)
	})
	if err != nil {
		return nil, err
	}
	rec := result.toRecord()
	return &rec, nil
}

// WagerHistories fetches every wager in the filter's window, following the
// pagination cursor until the exchange reports no more pages.
func (c *Client) WagerHistories(ctx context.Context, filter HistoryFilter) ([]types.WagerRecord, error) {
	var out []types.WagerRecord
	cursor := ""

	for {
		if err := c.rl.Read.Wait(ctx); err != nil {
			return nil, err
		}

		var page struct {
			Wagers     []wagerPayload `json:"wagers"`
			NextCursor string         `json:"next_cursor"`
		}
		err := c.do(ctx, "wager histories", func(req *resty.Request) (*resty.Response, error) {
			if !filter.From.IsZero() {
				req.SetQueryParam("from", filter.From.UTC().Format(time.RFC3339))
			}
			if !filter.To.IsZero() {
				req.SetQueryParam("to", filter.To.UTC().Format(time.RFC3339))
			}
			if filter.Status != "" {
				req.SetQueryParam("status", string(filter.Status))
			}
			if filter.MatchingStatus != "" {
				req.SetQueryParam("matching_status", string(filter.MatchingStatus))
			}
			if cursor != "" {
				req.SetQueryParam("cursor", cursor)
			}
			return req.
				SetResult(&page).
				Get("/wagers")
		})
		if err != nil {
			return nil, err
		}

		for _, p := range page.Wagers {
			out = append(out, p.toRecord())
		}
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
