// Package proxy forwards allow-listed API calls to the upstream provider,
// swapping the client's credentials for the relay's short-lived one. Bodies
// stream through in both directions without full buffering so token-by-token
// responses reach the client as the upstream produces them.
package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/internal/common/apperrors"
	"github.com/gantryhq/gantry/internal/common/httpx"
	"github.com/gantryhq/gantry/internal/common/logtrace"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
	"github.com/gantryhq/gantry/internal/relaysrv/usage"
)

// allowedPrefixes is the fixed set of forwardable path prefixes. A request
// path must equal a prefix or extend it across a path boundary.
var allowedPrefixes = []string{
	"/v1/chat",
	"/v1/completions",
	"/v1/messages",
	"/v1/models",
	"/v1/embeddings",
	"/v1/responses",
}

// strippedHeaders are client headers that never reach the upstream. The
// relay owns authentication; whatever the local agent sends must not leak.
var strippedHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"X-Api-Key",
	"Api-Key",
	"Cookie",
}

// hopHeaders are connection-scoped and dropped in both directions.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CredentialSource supplies the short-lived upstream credential.
type CredentialSource interface {
	Get(ctx context.Context) (string, apperrors.Error)
}

// Forwarder is the http.Handler mounted under /v1/.
type Forwarder struct {
	credentials CredentialSource
	counters    *usage.Counters
	trail       *usage.TrailWriter
	httpClient  *http.Client
}

// NewForwarder creates a forwarder. The trail may be nil when no usage trail
// is configured. The transport carries no overall timeout: streamed
// responses live as long as the client stays connected, and request contexts
// end the exchange when the client goes away.
func NewForwarder(credentials CredentialSource, counters *usage.Counters, trail *usage.TrailWriter) *Forwarder {
	return &Forwarder{
		credentials: credentials,
		counters:    counters,
		trail:       trail,
		httpClient:  &http.Client{},
	}
}

// PathAllowed reports whether the path is on the forwarding allow-list.
func PathAllowed(path string) bool {
	for _, prefix := range allowedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// the allow-list gates before any credential work happens
	if !PathAllowed(r.URL.Path) {
		log.Ctx(ctx).Info().Str("path", r.URL.Path).Msg("path outside allow-list")
		httpx.SendError(w, ErrPathNotAllowed)
		return
	}

	cred, aerr := f.credentials.Get(ctx)
	if aerr != nil {
		f.counters.RecordProxyFailure()
		httpx.SendError(w, aerr)
		return
	}

	start := time.Now()
	req, err := f.buildUpstreamRequest(r, cred)
	if err != nil {
		f.counters.RecordProxyFailure()
		httpx.SendError(w, ErrProxy.Err(err))
		return
	}

	rsp, err := f.httpClient.Do(req)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("path", r.URL.Path).Msg("upstream request failed")
		f.counters.RecordProxyFailure()
		f.record(ctx, r, 0, 0, start)
		httpx.SendError(w, ErrUpstreamUnreachable)
		return
	}
	defer rsp.Body.Close()

	copyHeaders(w.Header(), rsp.Header)
	w.WriteHeader(rsp.StatusCode)

	written, err := copyFlush(w, rsp.Body)
	if err != nil {
		// client went away or the upstream stream broke mid-flight; the
		// response status is already on the wire
		log.Ctx(ctx).Debug().Err(err).Str("path", r.URL.Path).Msg("response stream ended early")
	}

	f.counters.RecordProxied(written)
	f.record(ctx, r, rsp.StatusCode, written, start)
}

// buildUpstreamRequest clones the inbound request toward the upstream API,
// replacing client authentication with the relay's credential.
func (f *Forwarder) buildUpstreamRequest(r *http.Request, cred string) (*http.Request, error) {
	upstreamURL := config.Config().Upstream.APIBaseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength

	req.Header = r.Header.Clone()
	for _, h := range strippedHeaders {
		req.Header.Del(h)
	}
	dropHopHeaders(req.Header)

	req.Header.Set("Authorization", "Bearer "+cred)
	for name, value := range config.Config().Upstream.ExtraHeaders {
		req.Header.Set(name, value)
	}
	return req, nil
}

// record appends a usage trail line for one forwarded request.
func (f *Forwarder) record(ctx context.Context, r *http.Request, status int, bytesOut int64, start time.Time) {
	if f.trail == nil {
		return
	}
	rec := usage.Record{
		Time:       start.UnixMilli(),
		RequestID:  logtrace.RequestIdFromContext(ctx),
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
		BytesOut:   bytesOut,
	}
	if err := f.trail.AddRecord(rec); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("unable to record usage")
	}
}

// copyHeaders copies upstream response headers, dropping connection-scoped
// ones.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	dropHopHeaders(dst)
}

// dropHopHeaders removes hop-by-hop headers, including any named by the
// Connection header.
func dropHopHeaders(h http.Header) {
	for _, name := range strings.Split(h.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			h.Del(name)
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// copyFlush relays src to dst, flushing after every read so streamed
// responses are not held back by response buffering.
func copyFlush(dst http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
