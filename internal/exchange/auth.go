package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// refreshBuffer is how close to expiry the access token may get before
// Token() refreshes it rather than handing it out.
const refreshBuffer = 30 * time.Second

// session is one issued token pair with absolute expiries.
type session struct {
	accessToken   string
	refreshToken  string
	accessExpiry  time.Time
	refreshExpiry time.Time
}

// tokenResponse is the wire shape of /auth/login and /auth/refresh.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`         // seconds
	RefreshExpiresIn int    `json:"refresh_expires_in"` // seconds
}

// Auth manages the exchange's session tokens. Login exchanges the access/secret
// key pair for an access token and a longer-lived refresh token; trading
// requests carry the access token as a bearer header.
//
// Token(ctx) is the single entry point: it returns a valid access token,
// refreshing when the current one is inside the expiry buffer and falling back
// to a full login when the refresh token itself has lapsed or is rejected.
type Auth struct {
	http      *resty.Client
	accessKey string
	secretKey string
	logger    *slog.Logger

	mu   sync.Mutex
	sess session
}

// NewAuth creates an Auth bound to the given resty client (shared with the
// REST client so base URL and retry policy match).
func NewAuth(httpClient *resty.Client, accessKey, secretKey string, logger *slog.Logger) *Auth {
	return &Auth{
		http:      httpClient,
		accessKey: accessKey,
		secretKey: secretKey,
		logger:    logger.With("component", "exchange-auth"),
	}
}

// Token returns a valid access token, logging in or refreshing as needed.
func (a *Auth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if a.sess.accessToken != "" && now.Before(a.sess.accessExpiry.Add(-refreshBuffer)) {
		return a.sess.accessToken, nil
	}

	if a.sess.refreshToken != "" && now.Before(a.sess.refreshExpiry) {
		if err := a.refreshLocked(ctx); err == nil {
			return a.sess.accessToken, nil
		} else {
			a.logger.Warn("token refresh failed, retrying with full login", "error", err)
		}
	}

	if err := a.loginLocked(ctx); err != nil {
		return "", err
	}
	return a.sess.accessToken, nil
}

// Invalidate drops the current session so the next Token() performs a full
// login. Called when the exchange rejects a request with 401.
func (a *Auth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sess = session{}
}

// RunRefresh keeps the session warm in the background so cycle-time requests
// never pay login latency. It wakes ahead of each access expiry and exits
// when ctx is cancelled.
func (a *Auth) RunRefresh(ctx context.Context) {
	for {
		a.mu.Lock()
		expiry := a.sess.accessExpiry
		a.mu.Unlock()

		wait := time.Minute
		if !expiry.IsZero() {
			if until := time.Until(expiry.Add(-2 * refreshBuffer)); until > 0 {
				wait = until
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if _, err := a.Token(ctx); err != nil {
				a.logger.Error("background token refresh failed", "error", err)
			}
		}
	}
}

func (a *Auth) loginLocked(ctx context.Context) error {
	var result tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"access_key": a.accessKey,
			"secret_key": a.secretKey,
		}).
		SetResult(&result).
		Post("/auth/login")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("login: status %d: %s", resp.StatusCode(), resp.String())
	}

	a.storeLocked(result)
	a.logger.Info("logged in to exchange", "access_expires", a.sess.accessExpiry)
	return nil
}

func (a *Auth) refreshLocked(ctx context.Context) error {
	var result tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh_token": a.sess.refreshToken}).
		SetResult(&result).
		Post("/auth/refresh")
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("refresh: status %d: %s", resp.StatusCode(), resp.String())
	}

	a.storeLocked(result)
	a.logger.Debug("access token refreshed", "access_expires", a.sess.accessExpiry)
	return nil
}

func (a *Auth) storeLocked(tr tokenResponse) {
	now := time.Now()
	a.sess = session{
		accessToken:   tr.AccessToken,
		refreshToken:  tr.RefreshToken,
		accessExpiry:  now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		refreshExpiry: now.Add(time.Duration(tr.RefreshExpiresIn) * time.Second),
	}
	// Some responses omit the refresh lifetime; treat the refresh token as
	// good for a day rather than discarding it.
	if tr.RefreshExpiresIn == 0 && tr.RefreshToken != "" {
		a.sess.refreshExpiry = now.Add(24 * time.Hour)
	}
}
