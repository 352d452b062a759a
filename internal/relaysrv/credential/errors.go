package credential

import (
	"net/http"

	"github.com/gantryhq/gantry/internal/common/apperrors"
)

var (
	// ErrCredential is the base error for all credential errors.
	ErrCredential apperrors.Error = apperrors.New("credential error").SetStatusCode(http.StatusInternalServerError)

	// ErrNotAuthenticated is returned when no long-lived token is configured.
	ErrNotAuthenticated apperrors.Error = ErrCredential.New("not authenticated: no token configured").SetStatusCode(http.StatusUnauthorized)

	// ErrExchangeRejected is returned when the provider refuses to exchange
	// the long-lived token, typically because it was revoked.
	ErrExchangeRejected apperrors.Error = ErrCredential.New("credential exchange rejected").SetStatusCode(http.StatusUnauthorized)

	// ErrExchangeUnreachable is returned when the credential endpoint cannot
	// be reached or answers outside the exchange protocol.
	ErrExchangeUnreachable apperrors.Error = ErrCredential.New("credential endpoint unreachable").SetStatusCode(http.StatusBadGateway)

	// ErrSettingsUnreadable is returned when the settings file exists but the
	// long-lived token cannot be read from it.
	ErrSettingsUnreadable apperrors.Error = ErrCredential.New("settings file unreadable").SetStatusCode(http.StatusInternalServerError)
)
