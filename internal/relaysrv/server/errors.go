package server

import (
	"net/http"

	"github.com/gantryhq/gantry/internal/common/apperrors"
)

var (
	// ErrRelayServer is the base error for front door failures.
	ErrRelayServer apperrors.Error = apperrors.New("relay server error").SetStatusCode(http.StatusInternalServerError)

	// ErrStatsUnavailable is returned when the provider's usage endpoint
	// keeps failing past the retry budget.
	ErrStatsUnavailable apperrors.Error = ErrRelayServer.New("usage stats unavailable").SetStatusCode(http.StatusBadGateway)

	// ErrSetupScript is returned when the bootstrap script cannot be rendered.
	ErrSetupScript apperrors.Error = ErrRelayServer.New("unable to render setup script")
)
