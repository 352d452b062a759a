package bundle

import (
	"net/http"

	"github.com/gantryhq/gantry/internal/common/apperrors"
)

var (
	// ErrBundle is the base error for all bundle building errors.
	ErrBundle apperrors.Error = apperrors.New("bundle error").SetStatusCode(http.StatusInternalServerError)

	// ErrManifestInvalid is returned when a required bundle asset is missing
	// or empty. The message names the asset and how to restore it.
	ErrManifestInvalid apperrors.Error = ErrBundle.New("bundle manifest invalid")

	// ErrArchiveFailed is returned when the archive could not be produced.
	ErrArchiveFailed apperrors.Error = ErrBundle.New("archive creation failed")
)
