package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/common/middleware"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
)

// newTestServer builds a relay server on a fresh test configuration. Tests
// that reach the provider point config.Config().Upstream at their stubs
// before issuing requests.
func newTestServer(t *testing.T) *RelayServer {
	t.Helper()
	config.TestInit(t)
	s, err := CreateNewServer()
	require.NoError(t, err, "create relay server")
	s.MountHandlers()
	t.Cleanup(s.Close)
	return s
}

// executeTestRequest runs one request through the server's router. The
// server is passed in so state such as device-flow sessions and cached
// credentials carries across requests within a test.
func executeTestRequest(t *testing.T, s *RelayServer, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func checkHeader(t *testing.T, h http.Header) {
	expected := "application/json"
	got := h.Get("Content-Type")
	assert.Equal(t, expected, got, "Content-Type expected %s, got %s", expected, got)
	assert.NotEmpty(t, h.Get(middleware.RequestIDHeader), "no request id")
}

func setRequestBodyAndHeader(t *testing.T, req *http.Request, data any) {
	t.Helper()
	jsonData, err := json.Marshal(data)
	require.NoError(t, err, "marshal request body")
	req.Body = io.NopCloser(bytes.NewReader(jsonData))
	req.ContentLength = int64(len(jsonData))
	req.Header.Set("Content-Type", "application/json")
}

// grantToken writes a long-lived token into the settings file the way the
// CLI does after a completed login.
func grantToken(t *testing.T, token string) {
	t.Helper()
	settings := config.NewSettings(config.Config().Auth.SettingsPath)
	require.NoError(t, settings.WriteToken(token))
}

// stubCredentialExchange serves the provider's credential endpoint, granting
// the given short-lived credential for an hour, and points the test
// configuration at it.
func stubCredentialExchange(t *testing.T, longLived, cred string) {
	t.Helper()
	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/credential", r.URL.Path)
		assert.Equal(t, "Bearer "+longLived, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"token":      cred,
			"expires_at": time.Now().Add(time.Hour).Unix(),
		})
	}))
	t.Cleanup(exchange.Close)
	config.Config().Upstream.AuthBaseURL = exchange.URL
}

// writeBundleRepo populates the configured repo root with the required
// bundle assets plus any extra files the test needs.
func writeBundleRepo(t *testing.T, extra map[string]string) {
	t.Helper()
	files := map[string]string{
		"install.sh":            "#!/bin/sh\nexit 0\n",
		"agent/agent.py":        "print('agent')\n",
		"templates/default.yml": "model: default\n",
	}
	for name, body := range extra {
		files[name] = body
	}
	root := config.Config().Bundle.RepoRoot
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}
}
