package authflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/relaysrv/config"
)

// stubProvider fakes the upstream authorization endpoints. The token
// endpoint's behavior is switched per test step: an OAuth error code, or a
// grant when the error is cleared.
type stubProvider struct {
	t *testing.T

	mu        sync.Mutex
	oauthErr  string
	token     string
	httpFails bool

	server *httptest.Server
}

func newStubProvider(t *testing.T) *stubProvider {
	p := &stubProvider{t: t, oauthErr: "authorization_pending"}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *stubProvider) handle(w http.ResponseWriter, r *http.Request) {
	assert.NoError(p.t, r.ParseForm())
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/oauth/device/code":
		assert.Equal(p.t, "gantry-test", r.Form.Get("client_id"))
		assert.Equal(p.t, "agent:full", r.Form.Get("scope"))
		json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-123",
			"user_code":        "ABCD-EFGH",
			"verification_uri": p.server.URL + "/activate",
			"expires_in":       600,
			"interval":         5,
		})

	case "/oauth/token":
		assert.Equal(p.t, deviceGrantType, r.Form.Get("grant_type"))
		assert.NotEmpty(p.t, r.Form.Get("device_code"))

		p.mu.Lock()
		oauthErr, token, fails := p.oauthErr, p.token, p.httpFails
		p.mu.Unlock()

		if fails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if oauthErr != "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": oauthErr})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": token,
			"token_type":   "Bearer",
			"scope":        "agent:full",
		})

	default:
		http.NotFound(w, r)
	}
}

func (p *stubProvider) grant(token string) {
	p.mu.Lock()
	p.oauthErr, p.token, p.httpFails = "", token, false
	p.mu.Unlock()
}

func (p *stubProvider) fail(oauthErr string) {
	p.mu.Lock()
	p.oauthErr, p.httpFails = oauthErr, false
	p.mu.Unlock()
}

func (p *stubProvider) outage(on bool) {
	p.mu.Lock()
	p.httpFails = on
	p.mu.Unlock()
}

func setupManager(t *testing.T) (*Manager, *stubProvider) {
	t.Helper()
	config.TestInit(t)
	p := newStubProvider(t)
	config.Config().Upstream.AuthBaseURL = p.server.URL
	return NewManager(), p
}

func TestStartDeviceFlow(t *testing.T) {
	m, p := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)
	assert.Equal(t, "dev-123", rsp.DeviceCode)
	assert.Equal(t, "ABCD-EFGH", rsp.UserCode)
	assert.Equal(t, p.server.URL+"/activate", rsp.VerificationURI)
	assert.Equal(t, 5, rsp.Interval)
	assert.Equal(t, 600, rsp.ExpiresIn)
}

func TestDeviceFlowLifecycle(t *testing.T) {
	m, p := setupManager(t)
	settings := config.NewSettings(config.Config().Auth.SettingsPath)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	// user has not approved yet
	poll, err := m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, "pending", string(poll.Status))
	assert.Equal(t, 5, poll.Interval)

	// user approves out of band
	p.grant("tok-long-lived-1")
	poll, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, "authorized", string(poll.Status))
	assert.Equal(t, "tok-long-lived-1", poll.Token)

	// the token goes to the caller; persisting it is the caller's job
	token, terr := settings.Token()
	require.NoError(t, terr)
	assert.Empty(t, token, "manager must not write the settings file")

	// the session is consumed; polling again is terminal
	_, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrUnknownDeviceCode)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode())
}

func TestPollDenied(t *testing.T) {
	m, p := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	p.fail("access_denied")
	_, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrAuthorizationDenied)
	assert.ErrorIs(t, err, ErrAuthFlowError)
	assert.Equal(t, http.StatusForbidden, err.StatusCode())

	// denial is terminal for the session
	_, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	assert.ErrorIs(t, err, ErrUnknownDeviceCode)
}

func TestPollExpiredUpstream(t *testing.T) {
	m, p := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	p.fail("expired_token")
	_, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrFlowExpired)
	assert.Equal(t, http.StatusGone, err.StatusCode())
}

func TestPollExpiredLocally(t *testing.T) {
	m, _ := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	m.mu.Lock()
	m.sessions[rsp.DeviceCode].expiresAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	_, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrFlowExpired)

	_, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	assert.ErrorIs(t, err, ErrUnknownDeviceCode)
}

func TestPollSlowDown(t *testing.T) {
	m, p := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	p.fail("slow_down")
	poll, err := m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, "pending", string(poll.Status))
	assert.Equal(t, 10, poll.Interval)

	poll, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, 15, poll.Interval)
}

func TestPollSurvivesNetworkBlip(t *testing.T) {
	m, p := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	// endpoint vanishes; the flow must not abort
	config.Config().Upstream.AuthBaseURL = "http://127.0.0.1:9"
	poll, err := m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, "pending", string(poll.Status))

	// endpoint recovers and the grant goes through
	config.Config().Upstream.AuthBaseURL = p.server.URL
	p.grant("tok-after-blip")
	poll, err = m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, "authorized", string(poll.Status))
}

func TestPollSurvivesProviderOutage(t *testing.T) {
	m, p := setupManager(t)

	rsp, err := m.StartDeviceFlow(context.Background())
	require.Nil(t, err)

	p.outage(true)
	poll, err := m.PollOnce(context.Background(), rsp.DeviceCode)
	require.Nil(t, err)
	assert.Equal(t, "pending", string(poll.Status))
}

func TestPollUnknownDeviceCode(t *testing.T) {
	m, _ := setupManager(t)

	_, err := m.PollOnce(context.Background(), "never-issued")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrUnknownDeviceCode)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode())
}

func TestStartDeviceFlowUpstreamUnreachable(t *testing.T) {
	m, _ := setupManager(t)
	config.Config().Upstream.AuthBaseURL = "http://127.0.0.1:9"

	_, err := m.StartDeviceFlow(context.Background())
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrUpstreamAuth)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode())
}
