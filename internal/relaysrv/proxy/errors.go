package proxy

import (
	"net/http"

	"github.com/gantryhq/gantry/internal/common/apperrors"
)

var (
	// ErrProxy is the base error for all forwarding errors. Upstream non-2xx
	// responses are not errors of the relay; they pass through untouched.
	ErrProxy apperrors.Error = apperrors.New("proxy error").SetStatusCode(http.StatusBadGateway)

	// ErrPathNotAllowed is returned when the requested path is outside the
	// forwarding allow-list.
	ErrPathNotAllowed apperrors.Error = ErrProxy.New("path not allowed").SetStatusCode(http.StatusForbidden)

	// ErrUpstreamUnreachable is returned when the upstream API endpoint
	// produced no response at all.
	ErrUpstreamUnreachable apperrors.Error = ErrProxy.New("upstream unreachable").SetStatusCode(http.StatusBadGateway)
)
