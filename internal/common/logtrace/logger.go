// Package logtrace provides logging and tracing utilities for the relay.
// It integrates with zerolog for structured logging and supports request
// tracing through unique request IDs.
package logtrace

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global logger. Timestamps are unix milliseconds
// so relay log lines interleave cleanly with the usage trail.
func InitLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
