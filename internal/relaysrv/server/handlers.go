package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/internal/common/httpx"
	"github.com/gantryhq/gantry/internal/relaysrv/authflow"
	"github.com/gantryhq/gantry/internal/relaysrv/bundle"
	"github.com/gantryhq/gantry/pkg/api"
)

// startDeviceFlow handles POST /auth/device. It begins a device
// authorization with the provider and returns the codes the user needs to
// approve the device.
func (s *RelayServer) startDeviceFlow(r *http.Request) (*httpx.Response, error) {
	rsp, err := s.flows.StartDeviceFlow(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

// pollDeviceFlow handles POST /auth/poll: one status check for the given
// device code. Terminal outcomes of the flow itself (denied, expired) are
// reported in the status field rather than as error bodies; the poll
// succeeded and the caller needs the outcome to pick its next step. Error
// responses are reserved for polls the relay could not answer.
func (s *RelayServer) pollDeviceFlow(r *http.Request) (*httpx.Response, error) {
	req := &api.PollRequest{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if req.DeviceCode == "" {
		return nil, httpx.ErrInvalidRequest("device_code is required")
	}

	rsp, err := s.flows.PollOnce(r.Context(), req.DeviceCode)
	if err != nil {
		switch {
		case errors.Is(err, authflow.ErrAuthorizationDenied):
			rsp = &api.PollResponse{Status: api.PollStatusDenied}
		case errors.Is(err, authflow.ErrFlowExpired):
			rsp = &api.PollResponse{Status: api.PollStatusExpired}
		default:
			return nil, err
		}
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

// getAuthStatus handles GET /auth/status. It reports whether a long-lived
// token is currently configured, without touching the provider.
func (s *RelayServer) getAuthStatus(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &api.AuthStatusResponse{
			Authenticated: s.settings.HasToken(),
		},
	}, nil
}

// getHealth handles liveness requests. The premium block is whatever the
// last successful stats fetch cached, so health stays local and fast even
// when the provider is down.
func (s *RelayServer) getHealth(w http.ResponseWriter, r *http.Request) {
	rsp := &api.HealthResponse{
		Status:        "ok",
		Version:       Version,
		Authenticated: s.settings.HasToken(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Relay:         s.counters.Snapshot(),
		Premium:       s.premium.get(),
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

// getBundle streams the installable agent bundle. The archive is staged
// fully before the first response byte so Content-Length is exact and a
// build failure still produces a clean error response.
func (s *RelayServer) getBundle(w http.ResponseWriter, r *http.Request) {
	archive, aerr := s.bundles.Build(r.Context())
	if aerr != nil {
		httpx.SendError(w, aerr)
		return
	}
	defer archive.Close()

	f, err := archive.Open()
	if err != nil {
		httpx.SendError(w, bundle.ErrArchiveFailed.Err(err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Length", strconv.FormatInt(archive.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="bundle.tar.gz"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("bundle download ended early")
	}
}
