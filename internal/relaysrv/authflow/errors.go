package authflow

import (
	"net/http"

	"github.com/gantryhq/gantry/internal/common/apperrors"
)

var (
	// ErrAuthFlowError is the base error for all device authorization errors.
	ErrAuthFlowError apperrors.Error = apperrors.New("error in device authorization").SetStatusCode(http.StatusBadRequest)

	// ErrUnknownDeviceCode is returned when a poll names a device code the
	// relay has no session for. Consumed and never-issued codes are
	// indistinguishable on purpose.
	ErrUnknownDeviceCode apperrors.Error = ErrAuthFlowError.New("unknown or completed device code")

	// ErrAuthorizationDenied is returned when the user declined the request
	// on the verification page.
	ErrAuthorizationDenied apperrors.Error = ErrAuthFlowError.New("authorization denied").SetStatusCode(http.StatusForbidden)

	// ErrFlowExpired is returned when the device code expired before the user
	// approved it.
	ErrFlowExpired apperrors.Error = ErrAuthFlowError.New("device authorization expired").SetStatusCode(http.StatusGone)

	// ErrAuthorizationFailed is returned when the provider rejects the flow
	// with an error the relay has no recovery for.
	ErrAuthorizationFailed apperrors.Error = ErrAuthFlowError.New("authorization failed").SetStatusCode(http.StatusBadRequest)

	// ErrUpstreamAuth is returned when the authorization endpoint cannot be
	// reached or answers with something other than the device flow protocol.
	ErrUpstreamAuth apperrors.Error = ErrAuthFlowError.New("authorization endpoint unreachable").SetStatusCode(http.StatusBadGateway)
)
