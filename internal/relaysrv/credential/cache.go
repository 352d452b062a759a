// Package credential exchanges the long-lived token for short-lived upstream
// credentials and caches the result. Concurrent cache misses collapse into a
// single upstream exchange; every waiter receives the same credential or the
// same error. Token values never appear in logs.
package credential

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/gantryhq/gantry/internal/common/apperrors"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
)

const (
	// refreshBuffer is subtracted from a credential's expiry when deciding
	// whether it may still be served. A credential inside the buffer is
	// treated as expired so in-flight upstream calls never straddle the real
	// expiry.
	refreshBuffer = 5 * time.Minute

	// defaultTTL is assumed when the provider states no expiry and the
	// credential carries no readable exp claim.
	defaultTTL = 1 * time.Hour

	exchangeTimeout = 15 * time.Second

	// flightKey collapses all concurrent refreshes; the relay holds exactly
	// one upstream credential.
	flightKey = "credential"
)

// shortLivedCredential is the cached exchange result.
type shortLivedCredential struct {
	token     string
	expiresAt time.Time
}

// usable reports whether the credential can still be served, honoring the
// refresh buffer.
func (c *shortLivedCredential) usable(now time.Time) bool {
	return c != nil && c.token != "" && now.Before(c.expiresAt.Add(-refreshBuffer))
}

// Cache holds the current short-lived credential and refreshes it on demand.
type Cache struct {
	httpClient *http.Client
	settings   *config.Settings

	mu   sync.RWMutex
	cred *shortLivedCredential

	sf singleflight.Group
}

// NewCache creates a credential cache reading the long-lived token through
// the given settings.
func NewCache(settings *config.Settings) *Cache {
	return &Cache{
		httpClient: &http.Client{Timeout: exchangeTimeout},
		settings:   settings,
	}
}

// exchangeResponse is the provider's answer to a credential exchange.
type exchangeResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds; 0 when unstated
}

// exchangeError is the provider's answer to a rejected exchange.
type exchangeError struct {
	Error string `json:"error"`
}

// Get returns a short-lived credential that is valid for at least the
// refresh buffer, exchanging the long-lived token when the cached one is
// missing or too close to expiry.
func (c *Cache) Get(ctx context.Context) (string, apperrors.Error) {
	now := time.Now()
	c.mu.RLock()
	cred := c.cred
	c.mu.RUnlock()
	if cred.usable(now) {
		return cred.token, nil
	}

	result, err, _ := c.sf.Do(flightKey, func() (any, error) {
		// another caller may have refreshed while this one waited
		c.mu.RLock()
		cred := c.cred
		c.mu.RUnlock()
		if cred.usable(time.Now()) {
			return cred.token, nil
		}
		return c.exchange(ctx)
	})
	if err != nil {
		if aerr, ok := err.(apperrors.Error); ok {
			return "", aerr
		}
		return "", ErrCredential.Err(err)
	}
	return result.(string), nil
}

// Invalidate drops the cached credential. The settings watcher calls this
// when the long-lived token changes out of band, so the next Get exchanges
// against the new token.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
	log.Info().Msg("credential cache invalidated")
}

// exchange performs one credential exchange and stores the result.
func (c *Cache) exchange(ctx context.Context) (string, apperrors.Error) {
	longLived, err := c.settings.Token()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to read long-lived token")
		return "", ErrSettingsUnreadable.Err(err)
	}
	if longLived == "" {
		return "", ErrNotAuthenticated
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	endpoint := config.Config().Upstream.AuthBaseURL + "/oauth/credential"
	req, rerr := http.NewRequestWithContext(exchangeCtx, http.MethodPost, endpoint, nil)
	if rerr != nil {
		return "", ErrCredential.Err(rerr)
	}
	req.Header.Set("Authorization", "Bearer "+longLived)
	req.Header.Set("Accept", "application/json")

	rsp, rerr := c.httpClient.Do(req)
	if rerr != nil {
		log.Ctx(ctx).Error().Err(rerr).Msg("credential exchange did not reach the provider")
		return "", ErrExchangeUnreachable.Err(rerr)
	}
	defer rsp.Body.Close()

	body, rerr := io.ReadAll(rsp.Body)
	if rerr != nil {
		return "", ErrExchangeUnreachable.Err(rerr)
	}

	switch {
	case rsp.StatusCode == http.StatusOK:
		// handled below

	case rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden:
		var hint exchangeError
		_ = json.Unmarshal(body, &hint)
		log.Ctx(ctx).Warn().Str("hint", hint.Error).Msg("credential exchange rejected")
		if hint.Error != "" {
			return "", ErrExchangeRejected.Msg("credential exchange rejected: " + hint.Error)
		}
		return "", ErrExchangeRejected

	default:
		log.Ctx(ctx).Error().Int("status", rsp.StatusCode).Msg("unexpected status from credential endpoint")
		return "", ErrExchangeUnreachable.Msg("unexpected response from credential endpoint")
	}

	var exch exchangeResponse
	if err := json.Unmarshal(body, &exch); err != nil || exch.Token == "" {
		log.Ctx(ctx).Error().Err(err).Msg("unparseable credential exchange response")
		return "", ErrExchangeUnreachable.Msg("unexpected response from credential endpoint")
	}

	expiresAt := c.resolveExpiry(&exch)
	c.mu.Lock()
	c.cred = &shortLivedCredential{token: exch.Token, expiresAt: expiresAt}
	c.mu.Unlock()

	log.Ctx(ctx).Info().Time("expires_at", expiresAt).Msg("short-lived credential refreshed")
	return exch.Token, nil
}

// resolveExpiry determines when the credential expires: the stated
// expires_at when present, the credential's own exp claim when it parses as
// a JWT, and a conservative default otherwise.
func (c *Cache) resolveExpiry(exch *exchangeResponse) time.Time {
	if exch.ExpiresAt > 0 {
		return time.Unix(exch.ExpiresAt, 0)
	}
	if exp := jwtExpiry(exch.Token); !exp.IsZero() {
		return exp
	}
	return time.Now().Add(defaultTTL)
}

// jwtExpiry extracts the exp claim without verifying the signature. The
// relay is not the credential's audience; it only needs the lifetime.
func jwtExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
