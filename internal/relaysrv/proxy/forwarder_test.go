package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/common/apperrors"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
	"github.com/gantryhq/gantry/internal/relaysrv/credential"
	"github.com/gantryhq/gantry/internal/relaysrv/usage"
)

// fakeCreds is a CredentialSource with a fixed outcome.
type fakeCreds struct {
	token string
	err   apperrors.Error
	calls atomic.Int64
}

func (f *fakeCreds) Get(ctx context.Context) (string, apperrors.Error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func setupForwarder(t *testing.T, upstream http.HandlerFunc) (*httptest.Server, *fakeCreds, *usage.Counters) {
	t.Helper()
	config.TestInit(t)

	api := httptest.NewServer(upstream)
	t.Cleanup(api.Close)
	config.Config().Upstream.APIBaseURL = api.URL
	config.Config().Upstream.ExtraHeaders = map[string]string{"X-Relay-Client": "gantry"}

	creds := &fakeCreds{token: "cred-xyz"}
	counters := usage.NewCounters()
	relay := httptest.NewServer(NewForwarder(creds, counters, nil))
	t.Cleanup(relay.Close)
	return relay, creds, counters
}

func TestForwardSwapsCredentials(t *testing.T) {
	relay, _, _ := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cred-xyz", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Api-Key"))
		assert.Empty(t, r.Header.Get("Api-Key"))
		assert.Empty(t, r.Header.Get("Cookie"))
		assert.Empty(t, r.Header.Get("Proxy-Authorization"))
		assert.Equal(t, "gantry", r.Header.Get("X-Relay-Client"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"model": "small", "messages": []}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "resp-1"}`))
	})

	req, err := http.NewRequest(http.MethodPost, relay.URL+"/v1/chat/completions",
		strings.NewReader(`{"model": "small", "messages": []}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer client-side-junk")
	req.Header.Set("X-Api-Key", "junk")
	req.Header.Set("Api-Key", "junk")
	req.Header.Set("Cookie", "session=junk")
	req.Header.Set("Proxy-Authorization", "Basic junk")

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "resp-1"}`, string(body))
}

func TestRejectOutsideAllowList(t *testing.T) {
	relay, creds, _ := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request outside the allow-list reached upstream")
	})

	for _, path := range []string{"/v1/admin/keys", "/v1/chatx", "/v1/files", "/v1"} {
		rsp, err := http.Get(relay.URL + path)
		require.NoError(t, err, path)
		body, _ := io.ReadAll(rsp.Body)
		rsp.Body.Close()

		assert.Equal(t, http.StatusForbidden, rsp.StatusCode, path)
		assert.JSONEq(t, `{"result": 0, "error": "path not allowed"}`, string(body), path)
	}

	assert.Equal(t, int64(0), creds.calls.Load(), "rejection must precede credential fetch")
}

func TestPathAllowed(t *testing.T) {
	allowed := []string{
		"/v1/chat", "/v1/chat/completions", "/v1/completions", "/v1/messages",
		"/v1/models", "/v1/models/small", "/v1/embeddings", "/v1/responses", "/v1/responses/resp-1",
	}
	for _, path := range allowed {
		assert.True(t, PathAllowed(path), path)
	}

	denied := []string{"/v1", "/v1/", "/v1/chatx", "/v1/messagesx", "/v2/chat", "/health", "/"}
	for _, path := range denied {
		assert.False(t, PathAllowed(path), path)
	}
}

func TestCredentialErrorPropagates(t *testing.T) {
	relay, creds, counters := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request without credential reached upstream")
	})
	creds.err = credential.ErrNotAuthenticated

	rsp, err := http.Get(relay.URL + "/v1/models")
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode)
	body, _ := io.ReadAll(rsp.Body)
	assert.JSONEq(t, `{"result": 0, "error": "not authenticated: no token configured"}`, string(body))
	assert.Equal(t, int64(1), counters.Snapshot().ProxyFailures)
}

func TestUpstreamErrorsPassThrough(t *testing.T) {
	relay, _, _ := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit"}}`))
	})

	rsp, err := http.Get(relay.URL + "/v1/models")
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, rsp.StatusCode)
	assert.Equal(t, "7", rsp.Header.Get("Retry-After"))
	body, _ := io.ReadAll(rsp.Body)
	assert.JSONEq(t, `{"error": {"type": "rate_limit"}}`, string(body))
}

func TestUpstreamUnreachable(t *testing.T) {
	relay, _, counters := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {})
	config.Config().Upstream.APIBaseURL = "http://127.0.0.1:9"

	rsp, err := http.Get(relay.URL + "/v1/models")
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, rsp.StatusCode)
	body, _ := io.ReadAll(rsp.Body)
	assert.JSONEq(t, `{"result": 0, "error": "upstream unreachable"}`, string(body))
	assert.Equal(t, int64(1), counters.Snapshot().ProxyFailures)
}

func TestQueryStringForwarded(t *testing.T) {
	relay, _, _ := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "limit=5&after=m1", r.URL.RawQuery)
		w.Write([]byte(`{}`))
	})

	rsp, err := http.Get(relay.URL + "/v1/models?limit=5&after=m1")
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
}

func TestResponseStreamsUnbuffered(t *testing.T) {
	release := make(chan struct{})
	relay, _, _ := setupForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !assert.True(t, ok) {
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: one\n\n")
		flusher.Flush()

		// hold the rest back until the client has seen the first event;
		// a buffering relay would deadlock here
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		io.WriteString(w, "data: two\n\n")
	})

	rsp, err := http.Get(relay.URL + "/v1/chat/completions")
	require.NoError(t, err)
	defer rsp.Body.Close()

	reader := bufio.NewReader(rsp.Body)
	firstLine := make(chan string, 1)
	go func() {
		line, _ := reader.ReadString('\n')
		firstLine <- line
	}()

	select {
	case line := <-firstLine:
		assert.Equal(t, "data: one\n", line)
	case <-time.After(3 * time.Second):
		t.Fatal("first event did not arrive while upstream held the stream open")
	}
	close(release)

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(rest), "data: two")
}

func TestUsageAccounting(t *testing.T) {
	config.TestInit(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "resp-1"}`))
	}))
	t.Cleanup(api.Close)
	config.Config().Upstream.APIBaseURL = api.URL

	trailPath := filepath.Join(t.TempDir(), "usage.log")
	trail, err := usage.NewTrailWriter(trailPath, 1)
	require.NoError(t, err)
	defer trail.Close()

	counters := usage.NewCounters()
	relay := httptest.NewServer(NewForwarder(&fakeCreds{token: "cred"}, counters, trail))
	t.Cleanup(relay.Close)

	rsp, err := http.Post(relay.URL+"/v1/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(rsp.Body)
	rsp.Body.Close()

	snap := counters.Snapshot()
	assert.Equal(t, int64(1), snap.Proxied)
	assert.Equal(t, int64(len(body)), snap.BytesOut)

	data, err := os.ReadFile(trailPath)
	require.NoError(t, err)
	var rec usage.Record
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &rec))
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "/v1/chat", rec.Path)
	assert.Equal(t, http.StatusOK, rec.Status)
	assert.Equal(t, int64(len(body)), rec.BytesOut)
}
