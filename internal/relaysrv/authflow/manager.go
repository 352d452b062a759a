// Package authflow drives the OAuth device authorization grant against the
// upstream provider. Sessions live in memory for a single-instance
// deployment; each poll is one discrete upstream check so the calling client
// owns the cadence.
package authflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/internal/common/apperrors"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
	"github.com/gantryhq/gantry/pkg/api"
)

const (
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// RFC 8628 defaults applied when the provider omits the fields
	defaultPollInterval = 5
	defaultExpiresIn    = 900

	// slowDownStep is added to the poll interval on upstream slow_down
	slowDownStep = 5

	httpTimeout = 30 * time.Second
)

// flowState tracks a session through the device flow state machine:
// INIT → POLLING → {AUTHORIZED, DENIED, EXPIRED}. Terminal states coincide
// with removal from the store.
type flowState string

const (
	stateInit       flowState = "INIT"
	statePolling    flowState = "POLLING"
	stateAuthorized flowState = "AUTHORIZED"
	stateDenied     flowState = "DENIED"
	stateExpired    flowState = "EXPIRED"
)

// flowSession is one in-flight device authorization.
type flowSession struct {
	deviceCode      string
	userCode        string
	verificationURI string
	interval        int // seconds; grows on slow_down
	expiresAt       time.Time
	state           flowState
}

// Manager owns the device flow sessions and the upstream authorization
// endpoints. On success the granted token is handed to the caller, who
// persists it into the settings file; the manager itself stores nothing
// durable. The token value is never logged.
type Manager struct {
	httpClient *http.Client

	mu       sync.RWMutex
	sessions map[string]*flowSession
}

// NewManager creates a device flow manager.
func NewManager() *Manager {
	return &Manager{
		httpClient: &http.Client{Timeout: httpTimeout},
		sessions:   make(map[string]*flowSession),
	}
}

// deviceCodeResponse is the provider's answer to a device code request.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// tokenResponse is the provider's answer to a successful token poll.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// tokenError is the provider's answer to an unsuccessful token poll.
type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// StartDeviceFlow requests a device code from the provider and opens a
// session for it.
func (m *Manager) StartDeviceFlow(ctx context.Context) (*api.DeviceAuthResponse, apperrors.Error) {
	m.sweepExpired()

	form := url.Values{
		"client_id": {config.Config().Auth.ClientID},
	}
	if scope := config.Config().Auth.Scope; scope != "" {
		form.Set("scope", scope)
	}

	endpoint := config.Config().Upstream.AuthBaseURL + "/oauth/device/code"
	body, status, err := m.postForm(ctx, endpoint, form)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("device code request failed")
		return nil, ErrUpstreamAuth.Err(err)
	}
	if status != http.StatusOK {
		log.Ctx(ctx).Error().Int("status", status).Msg("device code request rejected")
		return nil, ErrUpstreamAuth.Msg("authorization endpoint rejected the request")
	}

	var rsp deviceCodeResponse
	if err := json.Unmarshal(body, &rsp); err != nil || rsp.DeviceCode == "" {
		log.Ctx(ctx).Error().Err(err).Msg("unparseable device code response")
		return nil, ErrUpstreamAuth.Msg("unexpected response from authorization endpoint")
	}
	if rsp.Interval <= 0 {
		rsp.Interval = defaultPollInterval
	}
	if rsp.ExpiresIn <= 0 {
		rsp.ExpiresIn = defaultExpiresIn
	}

	session := &flowSession{
		deviceCode:      rsp.DeviceCode,
		userCode:        rsp.UserCode,
		verificationURI: rsp.VerificationURI,
		interval:        rsp.Interval,
		expiresAt:       time.Now().Add(time.Duration(rsp.ExpiresIn) * time.Second),
		state:           stateInit,
	}
	m.mu.Lock()
	m.sessions[session.deviceCode] = session
	m.mu.Unlock()

	log.Ctx(ctx).Info().
		Str("user_code", rsp.UserCode).
		Str("verification_uri", rsp.VerificationURI).
		Int("expires_in", rsp.ExpiresIn).
		Msg("device authorization started")

	return &api.DeviceAuthResponse{
		DeviceCode:      rsp.DeviceCode,
		UserCode:        rsp.UserCode,
		VerificationURI: rsp.VerificationURI,
		Interval:        rsp.Interval,
		ExpiresIn:       rsp.ExpiresIn,
	}, nil
}

// PollOnce performs exactly one status check against the provider for the
// given device code. Transient upstream failures report pending so a network
// blip does not abort the flow; denial and expiry are terminal and remove
// the session.
func (m *Manager) PollOnce(ctx context.Context, deviceCode string) (*api.PollResponse, apperrors.Error) {
	m.mu.Lock()
	session, ok := m.sessions[deviceCode]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUnknownDeviceCode
	}
	if time.Now().After(session.expiresAt) {
		session.state = stateExpired
		delete(m.sessions, deviceCode)
		m.mu.Unlock()
		log.Ctx(ctx).Info().Str("user_code", session.userCode).Msg("device authorization expired")
		return nil, ErrFlowExpired
	}
	if session.state == stateInit {
		session.state = statePolling
	}
	m.mu.Unlock()

	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
		"client_id":   {config.Config().Auth.ClientID},
	}
	endpoint := config.Config().Upstream.AuthBaseURL + "/oauth/token"
	body, status, err := m.postForm(ctx, endpoint, form)
	if err != nil {
		// transient; the client keeps polling
		log.Ctx(ctx).Warn().Err(err).Msg("token poll did not reach the authorization endpoint")
		return m.pendingResponse(deviceCode), nil
	}

	switch {
	case status == http.StatusOK:
		return m.finishAuthorized(ctx, deviceCode, body)

	case status == http.StatusBadRequest:
		var oauthErr tokenError
		if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Error == "" {
			return nil, ErrUpstreamAuth.Msg("unexpected response from authorization endpoint")
		}
		return m.handleOAuthError(ctx, deviceCode, oauthErr)

	case status >= http.StatusInternalServerError:
		// provider hiccup; treated like a network blip
		log.Ctx(ctx).Warn().Int("status", status).Msg("authorization endpoint unavailable during poll")
		return m.pendingResponse(deviceCode), nil

	default:
		log.Ctx(ctx).Error().Int("status", status).Msg("unexpected status from authorization endpoint")
		return nil, ErrUpstreamAuth.Msg("unexpected response from authorization endpoint")
	}
}

// finishAuthorized hands the granted token to the caller and retires the
// session.
func (m *Manager) finishAuthorized(ctx context.Context, deviceCode string, body []byte) (*api.PollResponse, apperrors.Error) {
	var rsp tokenResponse
	if err := json.Unmarshal(body, &rsp); err != nil || rsp.AccessToken == "" {
		return nil, ErrUpstreamAuth.Msg("unexpected response from authorization endpoint")
	}

	m.mu.Lock()
	session, ok := m.sessions[deviceCode]
	if ok {
		session.state = stateAuthorized
		delete(m.sessions, deviceCode)
	}
	m.mu.Unlock()
	if !ok {
		// a concurrent poll won the race and already consumed the grant
		return nil, ErrUnknownDeviceCode
	}

	log.Ctx(ctx).Info().Str("user_code", session.userCode).Msg("device authorization granted")
	return &api.PollResponse{
		Status: api.PollStatusAuthorized,
		Token:  rsp.AccessToken,
	}, nil
}

// handleOAuthError maps RFC 8628 token errors to poll outcomes.
func (m *Manager) handleOAuthError(ctx context.Context, deviceCode string, oauthErr tokenError) (*api.PollResponse, apperrors.Error) {
	switch oauthErr.Error {
	case "authorization_pending":
		return m.pendingResponse(deviceCode), nil

	case "slow_down":
		m.mu.Lock()
		if session, ok := m.sessions[deviceCode]; ok {
			session.interval += slowDownStep
		}
		m.mu.Unlock()
		return m.pendingResponse(deviceCode), nil

	case "access_denied":
		m.retire(deviceCode, stateDenied)
		log.Ctx(ctx).Info().Msg("device authorization denied by user")
		return nil, ErrAuthorizationDenied

	case "expired_token":
		m.retire(deviceCode, stateExpired)
		log.Ctx(ctx).Info().Msg("device authorization expired upstream")
		return nil, ErrFlowExpired

	default:
		m.retire(deviceCode, stateDenied)
		log.Ctx(ctx).Error().Str("oauth_error", oauthErr.Error).Msg("authorization failed")
		return nil, ErrAuthorizationFailed
	}
}

// pendingResponse reports pending with the session's current interval.
func (m *Manager) pendingResponse(deviceCode string) *api.PollResponse {
	interval := defaultPollInterval
	m.mu.RLock()
	if session, ok := m.sessions[deviceCode]; ok {
		interval = session.interval
	}
	m.mu.RUnlock()
	return &api.PollResponse{
		Status:   api.PollStatusPending,
		Interval: interval,
	}
}

// retire marks a session terminal and removes it from the store.
func (m *Manager) retire(deviceCode string, terminal flowState) {
	m.mu.Lock()
	if session, ok := m.sessions[deviceCode]; ok {
		session.state = terminal
		delete(m.sessions, deviceCode)
	}
	m.mu.Unlock()
}

// sweepExpired drops sessions whose device code lapsed without a final poll.
func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	for code, session := range m.sessions {
		if now.After(session.expiresAt) {
			delete(m.sessions, code)
		}
	}
	m.mu.Unlock()
}

// postForm sends a form-encoded POST and returns the raw response body.
func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	rsp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, rsp.StatusCode, nil
}
