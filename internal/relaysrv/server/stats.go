package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/gantryhq/gantry/internal/common/httpx"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
)

const (
	// usageEndpointPath is the provider endpoint serving usage metadata.
	usageEndpointPath = "/v1/usage"

	// statsFetchTimeout bounds a single usage request to the provider.
	statsFetchTimeout = 10 * time.Second
)

// premiumCache holds the premium-usage summary from the last successful
// stats fetch. The health endpoint reads it; only a stats fetch writes it.
type premiumCache struct {
	mu      sync.RWMutex
	summary json.RawMessage
}

func (p *premiumCache) set(summary json.RawMessage) {
	p.mu.Lock()
	p.summary = summary
	p.mu.Unlock()
}

func (p *premiumCache) get() json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.summary
}

// getStats handles GET /stats. It fetches the provider's usage metadata
// with the relay's short-lived credential and passes the body through.
// Transient upstream failures are retried with backoff; provider rejections
// are not, since repeating the same request cannot change the answer.
func (s *RelayServer) getStats(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	cred, aerr := s.creds.Get(ctx)
	if aerr != nil {
		return nil, aerr
	}

	var body []byte
	err := retry.Do(
		func() error {
			var ferr error
			body, ferr = s.fetchUsage(ctx, cred)
			return ferr
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n).Msg("usage fetch failed, retrying")
		}),
	)
	if err != nil {
		return nil, ErrStatsUnavailable.Err(err)
	}

	if premium := gjson.GetBytes(body, "premium"); premium.Exists() {
		s.premium.set(json.RawMessage(premium.Raw))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   json.RawMessage(body),
	}, nil
}

// fetchUsage performs one usage request against the provider API.
func (s *RelayServer) fetchUsage(ctx context.Context, cred string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, statsFetchTimeout)
	defer cancel()

	endpoint := config.Config().Upstream.APIBaseURL + usageEndpointPath
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred)
	req.Header.Set("Accept", "application/json")

	rsp, err := s.statsClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case rsp.StatusCode == http.StatusOK:
		return body, nil
	case rsp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("usage endpoint answered %d", rsp.StatusCode)
	default:
		// the provider turned the request down; retrying cannot help
		return nil, retry.Unrecoverable(fmt.Errorf("usage endpoint answered %d", rsp.StatusCode))
	}
}
