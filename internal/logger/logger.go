// Package logger configures the process-wide zerolog logger: pretty console
// output for local development, structured JSON for production, and
// per-component child loggers carved off the global instance.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger, configured by Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. pretty selects a human-readable
// console writer (development); otherwise output is newline-delimited JSON.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "pipegate").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// Tunnel returns a child logger scoped to tunnel session lifecycle events.
func Tunnel() *zerolog.Logger {
	l := Log.With().Str("component", "tunnel").Logger()
	return &l
}

// HTTP returns a child logger scoped to the public HTTP gateway.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Auth returns a child logger scoped to handshake/auth events.
func Auth() *zerolog.Logger {
	l := Log.With().Str("component", "auth").Logger()
	return &l
}

// Client returns a child logger scoped to the client-side relay.
func Client() *zerolog.Logger {
	l := Log.With().Str("component", "client").Logger()
	return &l
}
