package server

import (
	"bytes"
	_ "embed"
	"net/http"
	"strconv"
	"text/template"

	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/internal/common/httpx"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
)

//go:embed setup.sh.tmpl
var setupScriptSource string

// setupTemplate renders the bootstrap script. missingkey=error makes a
// field renamed here without updating the template fail loudly in tests
// instead of shipping a broken script.
var setupTemplate = template.Must(
	template.New("setup.sh").Option("missingkey=error").Parse(setupScriptSource))

// setupParams are the values substituted into the bootstrap script.
type setupParams struct {
	RelayURL string
	Version  string
}

// getSetupScript handles GET /setup and renders the parameterized bootstrap
// script. The embedded relay URL comes from the live configuration, so the
// script always points at the host and port this server actually bound.
func (s *RelayServer) getSetupScript(w http.ResponseWriter, r *http.Request) {
	var script bytes.Buffer
	err := setupTemplate.Execute(&script, setupParams{
		RelayURL: config.GetURL(),
		Version:  Version,
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("setup script render failed")
		httpx.SendError(w, ErrSetupScript.Err(err))
		return
	}

	w.Header().Set("Content-Type", "text/x-shellscript")
	w.Header().Set("Content-Length", strconv.Itoa(script.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(script.Bytes()); err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("setup script download ended early")
	}
}
