package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/common/logtrace"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
	"github.com/gantryhq/gantry/internal/relaysrv/server"
)

// newServeCmd creates and returns the serve command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long: `Run the relay. It listens on the configured host and port, drives the
device flow, exchanges and caches short-lived credentials, forwards agent
API calls upstream, and serves the installable bundle.

Example:
  gantry serve --config ~/.gantry/gantry.conf`,
		RunE: runServe,
	}

	cmd.Flags().String("config", "", "Path to the relay config file (default ~/.gantry/gantry.conf)")
	return cmd
}

// runServe handles the serve command execution
func runServe(cmd *cobra.Command, args []string) error {
	logtrace.InitLogger()
	slog := log.With().Str("state", "init").Logger()

	// pick up a local .env before the config layer reads the environment
	_ = godotenv.Load()

	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		var err error
		configFile, err = defaultConfigPath()
		if err != nil {
			return err
		}
	}

	slog.Info().Str("config_file", configFile).Msg("loading config file")
	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}

	return runRelay(cmd.Context())
}

// runRelay builds the relay server and blocks until a shutdown signal or a
// listener failure.
func runRelay(ctx context.Context) error {
	slog := log.With().Str("state", "init").Logger()

	s, err := server.CreateNewServer()
	if err != nil {
		return fmt.Errorf("creating relay server: %w", err)
	}
	s.MountHandlers()
	s.Start()
	defer s.Close()

	srv := &http.Server{
		Addr:              config.Config().ServerHostName + ":" + config.Config().ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	// Start the service listening for requests.
	go func() {
		slog.Info().Str("url", config.GetURL()).Msg("relay started")
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait forever until shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		// Give outstanding requests 5 seconds to complete and initiate the shutdown.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	slog.Info().Msg("relay stopped")
	return nil
}
