// Package server provides the HTTP front door of the relay. It wires the
// device flow, the credential cache, the streaming forwarder, and the bundle
// builder onto a single router, serves the bootstrap script, and reports
// health and usage. The package supports CORS handling and middleware
// integration for logging and error handling.
package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/internal/common/httpx"
	"github.com/gantryhq/gantry/internal/common/logtrace"
	"github.com/gantryhq/gantry/internal/common/middleware"
	"github.com/gantryhq/gantry/internal/relaysrv/authflow"
	"github.com/gantryhq/gantry/internal/relaysrv/bundle"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
	"github.com/gantryhq/gantry/internal/relaysrv/credential"
	"github.com/gantryhq/gantry/internal/relaysrv/proxy"
	"github.com/gantryhq/gantry/internal/relaysrv/usage"
)

const (
	// usageTrailFile is the JSONL trail written inside the working directory.
	usageTrailFile = "usage.jsonl"

	// trailFlushInterval is the number of trail records buffered between
	// file writes.
	trailFlushInterval = 16
)

// RelayServer provides the main HTTP server for the relay.
// Manages routing, middleware, and the service components behind the
// endpoints.
type RelayServer struct {
	Router *chi.Mux // HTTP router for request handling

	settings  *config.Settings
	flows     *authflow.Manager
	creds     *credential.Cache
	forwarder *proxy.Forwarder
	bundles   *bundle.Builder
	counters  *usage.Counters
	trail     *usage.TrailWriter
	watcher   *config.SettingsWatcher
	premium   *premiumCache

	statsClient *http.Client
	startedAt   time.Time
}

// CreateNewServer creates a new RelayServer instance with its service
// components bound to the loaded configuration.
// Returns the server instance and any error encountered during creation.
func CreateNewServer() (*RelayServer, error) {
	settings := config.NewSettings(config.Config().Auth.SettingsPath)

	trailPath := filepath.Join(config.Config().WorkingDir, usageTrailFile)
	trail, err := usage.NewTrailWriter(trailPath, trailFlushInterval)
	if err != nil {
		return nil, fmt.Errorf("unable to open usage trail: %w", err)
	}

	s := &RelayServer{
		Router:      chi.NewRouter(),
		settings:    settings,
		flows:       authflow.NewManager(),
		creds:       credential.NewCache(settings),
		bundles:     bundle.NewBuilder(config.Config().Bundle.RepoRoot),
		counters:    usage.NewCounters(),
		trail:       trail,
		premium:     &premiumCache{},
		statsClient: &http.Client{Timeout: statsFetchTimeout},
		startedAt:   time.Now(),
	}
	s.forwarder = proxy.NewForwarder(s.creds, s.counters, s.trail)
	s.watcher = config.NewSettingsWatcher(settings.Path(), s.creds.Invalidate)
	return s, nil
}

// Start begins background work: watching the settings file so a token
// written or removed out of band takes effect without a restart.
func (s *RelayServer) Start() {
	if err := s.watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("settings watcher unavailable; token changes require a restart")
	}
}

// Close stops the settings watcher and flushes the usage trail.
// Call after the HTTP listener has drained.
func (s *RelayServer) Close() {
	s.watcher.Stop()
	if err := s.trail.Close(); err != nil {
		log.Warn().Err(err).Msg("unable to flush usage trail")
	}
}

// MountHandlers sets up all HTTP routes and middleware for the server.
// Configures logging, panic handling, CORS, and the relay endpoints.
func (s *RelayServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	s.Router.Use(s.countRequests)
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.mountRelayHandlers(s.Router)
	if logtrace.IsTraceEnabled() {
		fmt.Println("Routes in relay router")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

// mountRelayHandlers registers all relay endpoints on the router. JSON
// endpoints run under the request timeout; the proxy, bundle, and setup
// routes stream and are bounded by the request context instead.
func (s *RelayServer) mountRelayHandlers(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.SetTimeout(config.Config().Request.GetTimeoutOrDefault()))
		r.Route("/auth", s.mountAuthHandlers)
		r.Method(http.MethodGet, "/stats", httpx.WrapHttpRsp(s.getStats))
		r.Get("/health", s.getHealth)
		r.Get("/version", s.getVersion)
	})
	r.Get("/setup", s.getSetupScript)
	r.Get("/bundle.tar.gz", s.getBundle)
	r.Handle("/v1/*", s.forwarder)
}

// countRequests feeds the request total reported by the health endpoint.
func (s *RelayServer) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.counters.RecordRequest()
		next.ServeHTTP(w, r)
	})
}

// GetVersionRsp represents the response for version information.
// Contains server and API version details.
type GetVersionRsp struct {
	ServerVersion string `json:"server_version"` // server version string
	APIVersion    string `json:"api_version"`    // API version string
}

// getVersion handles version information requests.
// Returns server and API version information in JSON format.
func (s *RelayServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: Version,
		APIVersion:    APIVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

// HandleCORS provides CORS middleware for cross-origin requests.
// Configures allowed origins, methods, headers, and credentials handling.
func (s *RelayServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders:   []string{"Link", "Location", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
